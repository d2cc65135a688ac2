// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"
)

// =============================================================================
// PARSER INTERFACE
// =============================================================================

// Symbol is one declaration found in a source file.
type Symbol struct {
	Name      string
	Type      SymbolType
	Line      int
	Signature string
	Parent    string // receiver or enclosing class
	Exported  bool
}

// Parser extracts declarations from a source file.
type Parser interface {
	Parse(content, filePath string) ([]Symbol, error)
}

// parsers maps file extensions to parsers.
var parsers = map[string]Parser{
	".go":  goParser{},
	".js":  jsParser,
	".jsx": jsParser,
	".ts":  jsParser,
	".tsx": jsParser,
	".mjs": jsParser,
	".py":  &pythonParser{},
}

// parserFor returns the parser for a file extension, or nil.
func parserFor(ext string) Parser {
	return parsers[strings.ToLower(ext)]
}

// =============================================================================
// GO PARSER
// =============================================================================

type goParser struct{}

// Parse implements Parser using go/parser.
func (goParser) Parse(content, filePath string) ([]Symbol, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filePath, content, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}

	var symbols []Symbol
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			sym := Symbol{
				Name:      d.Name.Name,
				Type:      SymbolFunction,
				Line:      fset.Position(d.Pos()).Line,
				Signature: goFuncSignature(d),
				Exported:  ast.IsExported(d.Name.Name),
			}
			if d.Recv != nil && len(d.Recv.List) > 0 {
				sym.Type = SymbolMethod
				sym.Parent = goTypeName(d.Recv.List[0].Type)
			}
			symbols = append(symbols, sym)

		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					sym := Symbol{
						Name:     s.Name.Name,
						Type:     SymbolType_,
						Line:     fset.Position(s.Pos()).Line,
						Exported: ast.IsExported(s.Name.Name),
					}
					switch s.Type.(type) {
					case *ast.StructType:
						sym.Type = SymbolStruct
						sym.Signature = "type " + s.Name.Name + " struct"
					case *ast.InterfaceType:
						sym.Type = SymbolInterface
						sym.Signature = "type " + s.Name.Name + " interface"
					default:
						sym.Signature = "type " + s.Name.Name
					}
					symbols = append(symbols, sym)

				case *ast.ValueSpec:
					kind := SymbolVariable
					if d.Tok == token.CONST {
						kind = SymbolConst
					}
					for _, name := range s.Names {
						if name.Name == "_" {
							continue
						}
						symbols = append(symbols, Symbol{
							Name:     name.Name,
							Type:     kind,
							Line:     fset.Position(name.Pos()).Line,
							Exported: ast.IsExported(name.Name),
						})
					}
				}
			}
		}
	}
	return symbols, nil
}

func goFuncSignature(d *ast.FuncDecl) string {
	var sb strings.Builder
	sb.WriteString("func ")
	if d.Recv != nil && len(d.Recv.List) > 0 {
		sb.WriteString("(")
		sb.WriteString(goTypeName(d.Recv.List[0].Type))
		sb.WriteString(") ")
	}
	sb.WriteString(d.Name.Name)
	sb.WriteString("(...)")
	if res := d.Type.Results; res != nil && len(res.List) > 0 {
		if len(res.List) == 1 && len(res.List[0].Names) == 0 {
			sb.WriteString(" " + goTypeName(res.List[0].Type))
		} else {
			sb.WriteString(" (...)")
		}
	}
	return sb.String()
}

func goTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + goTypeName(t.X)
	case *ast.SelectorExpr:
		return goTypeName(t.X) + "." + t.Sel.Name
	case *ast.ArrayType:
		return "[]" + goTypeName(t.Elt)
	case *ast.IndexExpr:
		return goTypeName(t.X)
	case *ast.IndexListExpr:
		return goTypeName(t.X)
	default:
		return "?"
	}
}

// =============================================================================
// REGEX PARSERS
// =============================================================================

// linePattern extracts one symbol kind from a single source line. The first
// capture group is the name.
type linePattern struct {
	re        *regexp.Regexp
	kind      SymbolType
	signature string // NAME is replaced with the symbol name
}

// lineParser applies line patterns in order; the first match wins per line.
type lineParser struct {
	patterns []linePattern
	exported func(line, name string) bool
}

var jsParser = &lineParser{
	patterns: []linePattern{
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)\s*[(<]`), SymbolFunction, "function NAME(...)"},
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(\w+)`), SymbolClass, "class NAME"},
		{regexp.MustCompile(`^\s*(?:export\s+)?interface\s+(\w+)`), SymbolInterface, "interface NAME"},
		{regexp.MustCompile(`^\s*(?:export\s+)?type\s+(\w+)\s*(?:<[^>]*>)?\s*=`), SymbolType_, "type NAME"},
		{regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*(?::[^=]+)?=\s*(?:async\s*)?(?:\([^)]*\)|\w+)\s*=>`), SymbolFunction, "const NAME = (...) =>"},
		{regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*(?::[^=]+)?=`), SymbolConst, ""},
	},
	exported: func(line, _ string) bool {
		return strings.HasPrefix(strings.TrimSpace(line), "export")
	},
}

// Parse implements Parser.
func (p *lineParser) Parse(content, _ string) ([]Symbol, error) {
	var symbols []Symbol
	for i, line := range strings.Split(content, "\n") {
		for _, pat := range p.patterns {
			m := pat.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			symbols = append(symbols, Symbol{
				Name:      m[1],
				Type:      pat.kind,
				Line:      i + 1,
				Signature: strings.ReplaceAll(pat.signature, "NAME", m[1]),
				Exported:  p.exported(line, m[1]),
			})
			break
		}
	}
	return symbols, nil
}

// pythonParser tracks class indentation so methods get a parent.
type pythonParser struct{}

var (
	pyClass = regexp.MustCompile(`^(\s*)class\s+(\w+)`)
	pyDef   = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+(\w+)\s*\(`)
)

// Parse implements Parser.
func (pythonParser) Parse(content, _ string) ([]Symbol, error) {
	var (
		symbols     []Symbol
		class       string
		classIndent int
	)
	for i, line := range strings.Split(content, "\n") {
		if m := pyClass.FindStringSubmatch(line); m != nil {
			class, classIndent = m[2], len(m[1])
			symbols = append(symbols, Symbol{
				Name:      class,
				Type:      SymbolClass,
				Line:      i + 1,
				Signature: "class " + class,
				Exported:  pyExported(class),
			})
			continue
		}
		m := pyDef.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent, name := len(m[1]), m[2]
		sym := Symbol{
			Name:      name,
			Type:      SymbolFunction,
			Line:      i + 1,
			Signature: "def " + name + "(...)",
			Exported:  pyExported(name),
		}
		if class != "" && indent > classIndent {
			sym.Type = SymbolMethod
			sym.Parent = class
		} else if indent <= classIndent {
			class = ""
		}
		symbols = append(symbols, sym)
	}
	return symbols, nil
}

func pyExported(name string) bool {
	return name != "" && !strings.HasPrefix(name, "_")
}

// =============================================================================
// LANGUAGE DETECTION
// =============================================================================

var languages = map[string]string{
	".go":    "Go",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".mjs":   "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".py":    "Python",
	".java":  "Java",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".cc":    "C++",
	".hpp":   "C++",
	".rs":    "Rust",
	".rb":    "Ruby",
	".php":   "PHP",
	".cs":    "C#",
	".kt":    "Kotlin",
	".swift": "Swift",
	".md":    "Markdown",
	".json":  "JSON",
	".yaml":  "YAML",
	".yml":   "YAML",
	".toml":  "TOML",
	".sql":   "SQL",
	".sh":    "Shell",
	".html":  "HTML",
	".css":   "CSS",
}

// detectLanguage names the language for a file extension.
func detectLanguage(ext string) string {
	if lang, ok := languages[strings.ToLower(ext)]; ok {
		return lang
	}
	return "Other"
}
