package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ZenLiuCN/xlass"
	"github.com/ZenLiuCN/xlass/native"
	"github.com/urfave/cli/v2"
)

var nativeCommand = &cli.Command{
	Name:  "native",
	Usage: "tooling for native units linked by goloader",
	Subcommands: []*cli.Command{
		{Name: "prepare", Action: prepare, Usage: "copy internals of go sdk"},
		{Name: "clean", Action: clean, Usage: "remove copied internals of go sdk"},
		{
			Name:      "pack",
			Action:    pack,
			Usage:     "compile go sources and encode their linker as a native unit",
			ArgsUsage: "<source>...",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"k"}, Value: "main", Usage: "package import path of the sources"},
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, Usage: "output unit file"},
			},
		},
		{
			Name:      "imports",
			Action:    imports,
			Usage:     "display imports of go objfile or go archive file",
			ArgsUsage: "<objfile>...",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"k"}, Usage: "package path or default main"},
				&cli.BoolFlag{Name: "symbols", Aliases: []string{"s"}, Usage: "also list the symbols of each objfile"},
			},
		},
		{
			Name:      "unit",
			Action:    unit,
			Usage:     "display packages, imports and missing symbols of encoded native units",
			ArgsUsage: "<unit>...",
		},
	},
}

func pack(ctx *cli.Context) (err error) {
	o := ctx.Args().Slice()
	if len(o) == 0 {
		return fmt.Errorf("missing target sources list")
	}
	if _, err = exec.LookPath("go"); err != nil {
		return fmt.Errorf("missing go sdk: %w ", err)
	}
	lg := logger(ctx)
	if err = native.Imports(lg, o); err != nil {
		return fmt.Errorf("generate importcfg : %w ", err)
	}
	if err = native.Compile(lg, o); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	obj := strings.TrimSuffix(filepath.Base(o[0]), ".go") + ".o"
	defer os.Remove(obj)
	var b []byte
	if b, err = native.Pack(obj, ctx.String("pkg")); err != nil {
		return
	}
	out := ctx.String("out")
	if err = os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return
	}
	lg.Info("packed", "out", out, "size", len(b))
	return os.WriteFile(out, xlass.EncodeAll(b), 0o644)
}

func imports(ctx *cli.Context) (err error) {
	for _, s := range ctx.Args().Slice() {
		var v *native.Info
		if v, err = native.ObjectImports(s, ctx.String("pkg")); err != nil {
			return
		}
		fmt.Print(v.String())
		if !ctx.Bool("symbols") {
			continue
		}
		var syms []string
		if syms, err = native.Inspect(s, v.PkgPath); err != nil {
			return
		}
		for _, sym := range syms {
			fmt.Printf("\t%s\n", sym)
		}
	}
	return
}

func unit(ctx *cli.Context) (err error) {
	var r *native.Registry
	if r, err = native.NewRegistry(native.WithLogger(logger(ctx))); err != nil {
		return
	}
	for _, s := range ctx.Args().Slice() {
		var b []byte
		if b, err = os.ReadFile(s); err != nil {
			return
		}
		name := strings.TrimSuffix(filepath.Base(s), filepath.Ext(s))
		var u xlass.Unit
		if u, err = r.Define(name, xlass.DecodeAll(b)); err != nil {
			return
		}
		nu := u.(*native.Unit)
		l, lerr := nu.Linker()
		if lerr != nil {
			return lerr
		}
		fmt.Printf("%s: %v\n%s", name, nu.Packages(), native.LinkerImports(l).String())
		var missing []string
		if missing, err = nu.MissingSymbols(); err != nil {
			return
		}
		if len(missing) > 0 {
			fmt.Printf("missing symbols: %v\n", missing)
		}
	}
	return
}

func clean(ctx *cli.Context) (err error) {
	lg := logger(ctx)
	dir := os.ExpandEnv("$GOROOT/src/cmd/objfile")
	lg.Debug("clean go sdk", "dir", dir)
	if _, err = os.Stat(dir); err == nil {
		err = os.RemoveAll(dir)
		lg.Debug("removed", "dir", dir)
	} else {
		lg.Debug("did nothing", "dir", dir)
		err = nil
	}
	return
}

func prepare(ctx *cli.Context) (err error) {
	lg := logger(ctx)
	src := os.ExpandEnv("$GOROOT/src/cmd/internal")
	dir := os.ExpandEnv("$GOROOT/src/cmd/objfile")
	lg.Debug("prepare go sdk", "from", src, "to", dir)
	if _, err = os.Stat(dir); err != nil && os.IsNotExist(err) {
		err = native.CopyDir(src, dir, nil)
		lg.Debug("copied", "from", src, "to", dir)
	} else {
		lg.Debug("did nothing", "dir", dir)
	}
	return
}
