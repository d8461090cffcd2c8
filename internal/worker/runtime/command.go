package runtime

import (
	"github.com/cockroachdb/errors"
)

// ErrUnsupportedLanguage is returned by CommandFor for languages no interpreter is known for.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// CommandFor returns the interpreter invocation that runs code inline.
func CommandFor(language, code string) ([]string, error) {
	switch language {
	case "bash":
		return []string{"bash", "-c", code}, nil
	case "python3":
		return []string{"python3", "-c", code}, nil
	case "deno":
		return []string{"deno", "eval", code}, nil
	case "nodejs", "bun":
		return []string{"node", "-e", code}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedLanguage, "%q", language)
	}
}
