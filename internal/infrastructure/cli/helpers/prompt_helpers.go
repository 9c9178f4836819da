package helpers

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PromptForConfirmation asks a y/N question; anything but y or yes declines.
func PromptForConfirmation(out io.Writer, in io.Reader, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
