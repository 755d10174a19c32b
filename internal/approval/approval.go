// Package approval asks the user to confirm destructive actions such as
// clearing detection history.
package approval

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

type Result struct {
	Approved   bool
	UserAction string
}

type Prompt struct {
	Action  string
	Details []string
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Ask prompts on stderr and reads the answer from stdin. Non-interactive
// sessions are denied without prompting.
func Ask(p Prompt) Result {
	if !IsInteractive() {
		return Result{
			Approved:   false,
			UserAction: "auto_deny_non_interactive",
		}
	}
	return AskWith(os.Stdin, os.Stderr, p)
}

// AskWith runs the prompt over arbitrary streams.
func AskWith(in io.Reader, out io.Writer, p Prompt) Result {
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Confirm: %s\n", p.Action)
	for _, d := range p.Details {
		fmt.Fprintf(out, "  • %s\n", d)
	}
	fmt.Fprintln(out, "")

	reader := bufio.NewReader(in)

	for {
		fmt.Fprint(out, "Proceed? [y/N]: ")
		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			return Result{
				Approved:   false,
				UserAction: "error_reading_input",
			}
		}

		switch strings.TrimSpace(strings.ToLower(input)) {
		case "y", "yes":
			return Result{
				Approved:   true,
				UserAction: "approve",
			}
		case "", "n", "no":
			return Result{
				Approved:   false,
				UserAction: "deny",
			}
		default:
			if err != nil {
				return Result{Approved: false, UserAction: "error_reading_input"}
			}
			fmt.Fprintln(out, "Invalid input. Please enter 'y' to proceed or 'n' to cancel.")
		}
	}
}
