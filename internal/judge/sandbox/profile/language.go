// Package profile defines language and task profiles used by the sandbox.
package profile

// LanguageSpec defines how to compile and run a language.
//
// Command templates are split into argv without a shell. Supported
// placeholders are {src}, {bin} and {workdir}.
type LanguageSpec struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	Version        string   `yaml:"version" json:"version,omitempty"`
	SourceFile     string   `yaml:"sourceFile" json:"source_file"`
	BinaryFile     string   `yaml:"binaryFile" json:"binary_file,omitempty"`
	CompileEnabled bool     `yaml:"compileEnabled" json:"compile_enabled"`
	CompileCmdTpl  string   `yaml:"compileCmd" json:"-"`
	RunCmdTpl      string   `yaml:"runCmd" json:"-"`
	Env            []string `yaml:"env" json:"-"`
	TimeMultiplier float64  `yaml:"timeMultiplier" json:"-"`
}

// DefaultLanguages returns the built-in language table.
func DefaultLanguages() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:             "python",
			Name:           "Python 3",
			SourceFile:     "Main.py",
			CompileEnabled: true,
			CompileCmdTpl:  "python3 -m py_compile {src}",
			RunCmdTpl:      "python3 {src}",
		},
		{
			ID:             "c",
			Name:           "C",
			SourceFile:     "main.c",
			BinaryFile:     "main.out",
			CompileEnabled: true,
			CompileCmdTpl:  "gcc -O2 {src} -o {bin} -lm",
			RunCmdTpl:      "{bin}",
		},
		{
			ID:             "cpp",
			Name:           "C++17",
			SourceFile:     "main.cpp",
			BinaryFile:     "main.out",
			CompileEnabled: true,
			CompileCmdTpl:  "g++ -std=c++17 -O2 {src} -o {bin}",
			RunCmdTpl:      "{bin}",
		},
		{
			ID:             "java",
			Name:           "Java",
			SourceFile:     "Main.java",
			CompileEnabled: true,
			CompileCmdTpl:  "javac -encoding UTF-8 {src}",
			RunCmdTpl:      "java -cp {workdir} Main",
			TimeMultiplier: 2,
		},
	}
}
