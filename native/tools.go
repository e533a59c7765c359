package native

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ZenLiuCN/fn"
	"github.com/charmbracelet/log"
	"github.com/pkujhd/goloader"
	"github.com/pkujhd/goloader/obj"
)

// CopyFile from src to dest with optional src file info
func CopyFile(src string, dest string, si fs.FileInfo) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fn.IgnoreClose(sf)
	df, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer fn.IgnoreClose(df)
	_, err = io.Copy(df, sf)
	if err == nil {
		if si == nil {
			si, err = os.Stat(src)
			if err != nil {
				return
			}
		}
		err = os.Chmod(dest, si.Mode())
	}
	return
}

// CopyDir from src to dest with optional src file info
func CopyDir(src string, dest string, si fs.FileInfo) (err error) {
	if si == nil {
		si, err = os.Stat(src)
		if err != nil {
			return err
		}
	}
	err = os.MkdirAll(dest, si.Mode())
	if err != nil {
		return err
	}
	var sp string
	return filepath.Walk(src, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == src {
			return nil
		}
		sp, err = filepath.Rel(src, filepath.Dir(path))
		if err != nil {
			return err
		}
		dp := filepath.Join(dest, sp, info.Name())
		if info.IsDir() {
			err = CopyDir(path, dp, info)
		} else {
			err = CopyFile(path, dp, info)
		}
		return err
	})
}

// Compile go sources into an object file in the working directory, [Imports] must run first.
func Compile(logger *log.Logger, sources []string) (err error) {
	cmd := exec.Command("go", append([]string{"tool", "compile", "-importcfg", "importcfg"}, sources...)...)
	logger.Debug("execute", "args", cmd.Args)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err = cmd.Run(); err == nil {
		err = os.Remove("importcfg")
	}
	return
}

// Imports generate import cfg as importcfg file in current working directory.
func Imports(logger *log.Logger, sources []string) (err error) {
	logger.Debug("sources", "files", sources)
	var cfg *os.File
	if cfg, err = os.OpenFile("importcfg", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644); err != nil {
		return
	}
	defer fn.IgnoreClose(cfg)
	cmd := exec.Command("go", append([]string{"list", "-export", "-f", "{{.Imports}}"}, sources...)...)
	logger.Debug("execute", "args", cmd.Args)
	var bout []byte
	if bout, err = cmd.Output(); err != nil {
		return fmt.Errorf("inspect imports: %w\n%s", err, stderr(err))
	}
	out := strings.TrimSpace(string(bout))
	if out != "" && out[0] == '[' {
		out = out[1 : len(out)-1]
	}
	deps := strings.Fields(out)
	logger.Debug("dependencies", "packages", deps)
	cmd = exec.Command("go", append([]string{"list", "-export", "-f", "{{if .Export}}packagefile {{.ImportPath}}={{.Export}}{{end}}", "std"}, deps...)...)
	logger.Debug("execute", "args", cmd.Args)
	if bout, err = cmd.Output(); err != nil {
		return fmt.Errorf("inspect dependencies: %w\n%s", err, stderr(err))
	}
	_, err = cfg.Write(bout)
	return
}

func stderr(err error) string {
	if x, ok := err.(*exec.ExitError); ok {
		return string(x.Stderr)
	}
	return ""
}

// Pack reads an object file or go archive of package pkgPath and serializes its linker, the true bytes of a unit.
func Pack(file, pkgPath string) ([]byte, error) {
	if pkgPath == "" {
		pkgPath = "main"
	}
	l, err := goloader.ReadObj(file, pkgPath)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", file, err)
	}
	b := new(bytes.Buffer)
	if err = goloader.Serialize(l, b); err != nil {
		return nil, fmt.Errorf("serialize linker %s: %w", file, err)
	}
	return b.Bytes(), nil
}

// ObjectImports resolve all imported packages and version (only if it's a module) of an object file.
func ObjectImports(file, pkgPath string) (info *Info, err error) {
	v := &obj.Pkg{Syms: make(map[string]*obj.ObjSymbol, 0), File: file, PkgPath: pkgPath}
	if v.PkgPath == obj.EmptyString {
		v.PkgPath = "main"
	}
	if err = v.Symbols(); err != nil {
		return
	}
	info = parseInfo(v)
	info.File = file
	info.PkgPath = v.PkgPath
	return
}

// LinkerImports resolve all imported packages and version if it's a module.
func LinkerImports(link *goloader.Linker) (infos Infos) {
	for _, pkg := range link.Packages {
		info := parseInfo(pkg)
		info.File = pkg.File
		info.PkgPath = pkg.PkgPath
		infos = append(infos, info)
	}
	return
}

// Infos is a stringer slice of Info
type Infos []*Info

func (i Infos) String() string {
	s := strings.Builder{}
	for _, v := range i {
		s.WriteString(v.String())
	}
	return s.String()
}

// Info contains the import information of a linker
type Info struct {
	File    string
	PkgPath string
	Imports map[string]string // with pairs of package import path and version
}

func (i Info) String() string {
	s := strings.Builder{}
	s.WriteString(i.PkgPath)
	s.WriteByte('\n')
	for p, v := range i.Imports {
		if v != "" {
			s.WriteString(fmt.Sprintf("\t%s@%s\n", p, v))
		} else {
			s.WriteString(fmt.Sprintf("\t%s\n", p))
		}
	}
	return s.String()
}

func parseInfo(v *obj.Pkg) (i *Info) {
	i = new(Info)
	i.Imports = make(map[string]string)
	for _, pkg := range v.ImportPkgs {
		i.Imports[pkg] = ""
	}
	k := fn.MapKeys(i.Imports)
	for _, f := range v.CUFiles {
		f = strings.TrimPrefix(f, "gofile..")
		if strings.HasPrefix(f, "$GOROOT") {
			continue
		}
		if strings.IndexByte(f, '!') >= 0 {
			f = parseName(f)
		}
		for _, s := range k {
			x := strings.Index(f, s)
			if x >= 0 {
				f = f[x:]
				if i.Imports[s] == "" {
					i.Imports[s] = parseVersion(f)
				}
			}
		}
	}
	return
}

// parseVersion extracts the module version of a module cache path such as pkg@v1.0.0/file.go.
func parseVersion(f string) string {
	y := strings.IndexByte(f, '@')
	if y < 0 {
		return ""
	}
	ver := f[y+1:]
	if y = strings.IndexByte(ver, '/'); y >= 0 {
		ver = ver[:y]
	}
	return ver
}

// parseName reverses the module cache escaping of upper case letters, !a is A.
func parseName(f string) string {
	v := strings.Builder{}
	x := false
	for _, i := range []byte(f) {
		switch {
		case i == '!':
			x = true
		case x:
			x = false
			v.WriteByte(i - 32)
		default:
			v.WriteByte(i)
		}
	}
	return v.String()
}

// Inspect display symbols inside an object file
func Inspect(file, pkg string) ([]string, error) {
	return goloader.Parse(file, pkg)
}
