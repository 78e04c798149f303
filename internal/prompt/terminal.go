// Package prompt asks an operator on a terminal whether a device may operate.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/kvthweatt/USB-Monitor/internal/device"
)

var ErrInputClosed = errors.New("confirmation input closed")

var (
	titleFmt = color.New(color.FgYellow, color.Bold).SprintFunc()
	askFmt   = color.New(color.FgCyan).SprintFunc()
	okFmt    = color.New(color.FgGreen).SprintFunc()
	denyFmt  = color.New(color.FgRed).SprintFunc()
	dimFmt   = color.New(color.Faint).SprintFunc()
)

// Terminal is a device.Confirmer reading answers line by line from an
// input stream. Prompts are serialized; a line typed while no prompt is
// showing answers the next one.
type Terminal struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
	turn  chan struct{}
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:    in,
		out:   out,
		lines: make(chan string),
		turn:  make(chan struct{}, 1),
	}
}

func (t *Terminal) readLines() {
	go func() {
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			t.lines <- scanner.Text()
		}
		close(t.lines)
	}()
}

// Confirm shows req and waits for "y"/"yes" until ctx is done. Anything
// else declines.
func (t *Terminal) Confirm(ctx context.Context, req device.ConfirmRequest) (device.Answer, error) {
	select {
	case t.turn <- struct{}{}:
	case <-ctx.Done():
		return device.AnswerTimedOut, nil
	}
	defer func() { <-t.turn }()

	t.once.Do(t.readLines)

	fmt.Fprintf(t.out, "\n%s\n\n%s\n\n", titleFmt("USB Device Authorization"), req.Summary)
	fmt.Fprintf(t.out, "%s %s ", askFmt("Authorize? [y/N]"), dimFmt(fmt.Sprintf("(%s)", req.Timeout)))

	select {
	case line, ok := <-t.lines:
		if !ok {
			fmt.Fprintln(t.out)
			return device.AnswerDecline, ErrInputClosed
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			fmt.Fprintln(t.out, okFmt("Device authorized."))
			return device.AnswerAccept, nil
		default:
			fmt.Fprintln(t.out, denyFmt("Device denied."))
			return device.AnswerDecline, nil
		}
	case <-ctx.Done():
		fmt.Fprintf(t.out, "\n%s\n", denyFmt("No answer, device denied."))
		return device.AnswerTimedOut, nil
	}
}
