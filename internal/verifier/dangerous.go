package verifier

// dangerousNames are blocked regardless of policy: introspection and
// namespace-escape hooks that let submitted code reach past whatever
// allow/block list an operator configured.
var dangerousNames = map[string]bool{
	"getattr":          true,
	"setattr":          true,
	"delattr":          true,
	"vars":             true,
	"globals":          true,
	"locals":           true,
	"__getattribute__": true,
	"__setattr__":      true,
	"__delattr__":      true,
	"__dict__":         true,
	"__class__":        true,
	"__bases__":        true,
	"__subclasses__":   true,
	"__mro__":          true,
	"__builtins__":     true,
}

func isDangerousName(name string) bool {
	return dangerousNames[name]
}
