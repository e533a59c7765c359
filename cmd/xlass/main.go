package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/xlass"
	"github.com/ZenLiuCN/xlass/config"
	"github.com/ZenLiuCN/xlass/jsvm"
	"github.com/ZenLiuCN/xlass/luavm"
	"github.com/ZenLiuCN/xlass/native"
	"github.com/ZenLiuCN/xlass/resource"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal("failure", "err", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "xlass"
	app.Usage = "encoded module loader"
	app.Description = "encode units into stored form, store them and run their entry points"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, EnvVars: []string{"XLASS_DEBUG"}},
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "configuration file, default is the nearest " + config.FileName},
	}
	app.Commands = []*cli.Command{
		{
			Name:      "encode",
			Action:    encode,
			Usage:     "encode a unit source into stored form",
			ArgsUsage: "<source>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file, default is the source name with the configured suffix"},
			},
		},
		{
			Name:      "decode",
			Action:    decode,
			Usage:     "decode a stored unit",
			ArgsUsage: "<stored>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file, default is stdout"},
			},
		},
		{
			Name:      "store",
			Action:    store,
			Usage:     "encode a unit source into a database namespace",
			ArgsUsage: "<source>...",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "db", Usage: "database file, default is the configured database"},
				&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "module name of a single source, default is its base name"},
			},
		},
		{
			Name:      "run",
			Action:    run,
			Usage:     "load modules and invoke an entry point of each",
			ArgsUsage: "<name>...",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "entry", Aliases: []string{"e"}, Value: "hello", Usage: "entry point name"},
				&cli.StringFlag{Name: "runtime", Aliases: []string{"r"}, Usage: "unit runtime: lua, js or native"},
				&cli.StringSliceFlag{Name: "dir", Usage: "resource directories, replace the configured ones"},
				&cli.StringFlag{Name: "db", Usage: "resource database, replaces the configured one"},
			},
		},
		nativeCommand,
	}
	return app
}

func logger(ctx *cli.Context) *log.Logger {
	return xlass.NewLogger("xlass", ctx.Bool("debug"))
}

func configure(ctx *cli.Context) (c *config.Config, err error) {
	if p := ctx.String("config"); p != "" {
		c, err = config.Load(p)
	} else {
		c, err = config.Find(".")
	}
	if err != nil {
		return
	}
	if ctx.Bool("debug") {
		c.Debug = true
	}
	if v := ctx.String("runtime"); v != "" {
		c.Runtime = v
	}
	if v := ctx.StringSlice("dir"); len(v) > 0 {
		c.Resources.Dirs = v
	}
	if v := ctx.String("db"); v != "" {
		c.Resources.Database = v
	}
	return c, c.Validate()
}

func encode(ctx *cli.Context) (err error) {
	if ctx.NArg() != 1 {
		return fmt.Errorf("missing source file")
	}
	var c *config.Config
	if c, err = configure(ctx); err != nil {
		return
	}
	src := ctx.Args().First()
	out := ctx.String("out")
	if out == "" {
		out = strings.TrimSuffix(src, filepath.Ext(src)) + c.Suffix
	}
	var b []byte
	if b, err = os.ReadFile(src); err != nil {
		return
	}
	logger(ctx).Debug("encode", "source", src, "out", out, "size", len(b))
	return os.WriteFile(out, xlass.EncodeAll(b), 0o644)
}

func decode(ctx *cli.Context) (err error) {
	if ctx.NArg() != 1 {
		return fmt.Errorf("missing stored file")
	}
	var b []byte
	if b, err = os.ReadFile(ctx.Args().First()); err != nil {
		return
	}
	if out := ctx.String("out"); out != "" {
		return os.WriteFile(out, xlass.DecodeAll(b), 0o644)
	}
	_, err = os.Stdout.Write(xlass.DecodeAll(b))
	return
}

func store(ctx *cli.Context) (err error) {
	if ctx.NArg() == 0 {
		return fmt.Errorf("missing source files")
	}
	if ctx.NArg() > 1 && ctx.String("name") != "" {
		return fmt.Errorf("--name requires a single source")
	}
	var c *config.Config
	if c, err = configure(ctx); err != nil {
		return
	}
	if c.Resources.Database == "" {
		return fmt.Errorf("missing --db and no database configured")
	}
	var db *resource.SQLite
	if db, err = resource.OpenSQLite(c.Resources.Database); err != nil {
		return
	}
	defer fn.IgnoreClose(db)
	lg := logger(ctx)
	for _, src := range ctx.Args().Slice() {
		name := ctx.String("name")
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		}
		var b []byte
		if b, err = os.ReadFile(src); err != nil {
			return
		}
		path := c.Resolve(name)
		if err = db.Put(ctx.Context, path, xlass.EncodeAll(b)); err != nil {
			return
		}
		lg.Info("stored", "module", name, "path", path, "size", len(b))
	}
	return
}

func registry(c *config.Config, lg *log.Logger) (xlass.UnitRegistry, error) {
	switch c.Runtime {
	case "js":
		return jsvm.NewRegistry(jsvm.WithLogger(lg)), nil
	case "native":
		return native.NewRegistry(native.WithLogger(lg))
	default:
		return luavm.NewRegistry(luavm.WithLogger(lg)), nil
	}
}

func namespace(c *config.Config) (ns resource.Chain, closer io.Closer, err error) {
	if c.Resources.Database != "" {
		var db *resource.SQLite
		if db, err = resource.OpenSQLite(c.Resources.Database); err != nil {
			return
		}
		ns, closer = append(ns, db), db
	}
	for _, d := range c.Resources.Dirs {
		ns = append(ns, resource.Dir(d))
	}
	return
}

func run(ctx *cli.Context) (err error) {
	if ctx.NArg() == 0 {
		return fmt.Errorf("missing module names")
	}
	var c *config.Config
	if c, err = configure(ctx); err != nil {
		return
	}
	lg := logger(ctx)
	var units xlass.UnitRegistry
	if units, err = registry(c, lg); err != nil {
		return
	}
	ns, closer, err := namespace(c)
	if err != nil {
		return
	}
	if closer != nil {
		defer fn.IgnoreClose(closer)
	}
	l := xlass.NewLoader(ns, units, append(c.Options(), xlass.WithLogger(lg))...)
	entry := ctx.String("entry")
	for _, name := range ctx.Args().Slice() {
		var v any
		if v, err = l.Run(ctx.Context, name, entry); err != nil {
			return
		}
		if v != nil {
			fmt.Println(v)
		}
	}
	return
}
