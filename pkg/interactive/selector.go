package interactive

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Prompter asks the user to pick or confirm on a line-oriented terminal.
type Prompter struct {
	reader *bufio.Reader
	out    io.Writer
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Select prints a numbered list under title and returns the chosen index.
func (p *Prompter) Select(title string, items []string) (int, error) {
	if len(items) == 0 {
		return -1, fmt.Errorf("nothing to select")
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, title)
	fmt.Fprintln(p.out, strings.Repeat("=", 60))
	for i, item := range items {
		fmt.Fprintf(p.out, "%-4d %s\n", i+1, safeValue(item, "n/a"))
	}
	fmt.Fprintln(p.out, strings.Repeat("=", 60))

	for {
		fmt.Fprintf(p.out, "\nSelect a number (1-%d): ", len(items))

		input, err := p.reader.ReadString('\n')
		if err != nil && (err != io.EOF || strings.TrimSpace(input) == "") {
			return -1, fmt.Errorf("unable to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			fmt.Fprintln(p.out, "Please enter a number.")
			continue
		}

		choice, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintln(p.out, "Please enter a valid number.")
			continue
		}

		if choice < 1 || choice > len(items) {
			fmt.Fprintf(p.out, "Please select a number between 1 and %d.\n", len(items))
			continue
		}

		return choice - 1, nil
	}
}

// ConfirmAction defaults to no on empty input or a read error.
func (p *Prompter) ConfirmAction(action, target string) bool {
	fmt.Fprintf(p.out, "\nConfirm running %s for %s (y/N): ", action, target)

	input, err := p.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false
	}

	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

func safeValue(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
