package robin

import (
	"strings"
)

// parseArgs splits a command line into arguments. Runs of spaces
// separate tokens. A token starting with a double quote extends up to
// the closing quote, which lets a cip message contain spaces; the
// quotes are stripped. An unterminated quote ends parsing and the
// partial token is discarded. Empty input yields no tokens.
func parseArgs(line string) []string {
	var args []string
	i := 0
	for i < len(line) {
		switch line[i] {
		case ' ':
			i++
		case '"':
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				// unterminated quote, discard the partial token
				return args
			}
			args = append(args, line[i+1:i+1+end])
			i += end + 2
		default:
			end := strings.IndexByte(line[i:], ' ')
			if end < 0 {
				args = append(args, line[i:])
				return args
			}
			args = append(args, line[i:i+end])
			i += end
		}
	}
	return args
}
