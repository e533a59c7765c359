package sample

// Hello is the entry point of the native Hello unit.
func Hello() string {
	println("Hello, classLoader!")
	return "I got return value"
}
