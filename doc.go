/*
Package xlass is a dynamic module loader: units are stored encoded in a resource namespace,
decoded on demand and registered into a host runtime as callable units.

# License

Source codes are under Apache License Version 2.0.

# Underwater

 1. A module name resolves to a resource path as prefix + name + suffix, by default classes/<name>.xlass.
 2. Stored bytes are the one's complement of the unit's true bytes, see [Decode]. The same function encodes.
 3. Decoded bytes are handed to a [UnitRegistry], the host, which accepts or rejects them and registers the unit under its name.
 4. A name loads at most once per registry, concurrent loads of a name have exactly one winner, failed loads register nothing.

# Hosts

  - luavm: Lua chunks returning a module table, by [gopher-lua].
  - jsvm: JavaScript filling module.exports, by [goja].
  - native: Go code as serialized linkers, by [goloader].

# Resources

See package resource: any fs.FS, a directory, a SQLite database, or a Chain of them searched in order.

# Command line tool

The xlass cli encodes and stores units and runs their entry points:

	go install github.com/ZenLiuCN/xlass/cmd/xlass@latest
	xlass encode -o classes/Hello.xlass Hello.lua
	xlass run -e hello Hello

For more details see the cli help:

	xlass -h

# Samples

See testdata and tests.

[gopher-lua]: https://github.com/yuin/gopher-lua
[goja]: https://github.com/dop251/goja
[goloader]: https://github.com/pkujhd/goloader
*/
package xlass
