package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// RunLines reads one question or command per line from in until EOF or
// quit. It is the chat front end when stdin is not a terminal.
func RunLines(ctx context.Context, in io.Reader, out io.Writer, s *Session) error {
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, greeting)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		reply, err := s.Handle(ctx, scanner.Text())
		if err != nil {
			return err
		}
		if reply.Action == ActionQuit {
			return nil
		}
		fmt.Fprint(out, reply.Text)
	}
}
