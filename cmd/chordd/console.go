package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/fatih/color"

	"github.com/zde37/chordring/internal/chord"
)

const (
	statusRefresh = 2 * time.Second

	// Finger rows shown in the status view; the rest collapse into one line
	maxFingerRows = 8
)

var (
	headerColor = color.New(color.FgHiYellow, color.Bold)
	labelColor  = color.New(color.FgCyan)
	hintColor   = color.New(color.Faint)
)

// runConsole renders the node status and reacts to single key presses until
// the user quits, the node leaves or ctx ends.
func runConsole(ctx context.Context, d *daemon, out io.Writer) error {
	if err := keyboard.Open(); err != nil {
		return fmt.Errorf("failed to initialize keyboard: %w", err)
	}
	defer keyboard.Close()

	// Keyboard input channel
	keyCh := make(chan rune)
	go func() {
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			if key == keyboard.KeyCtrlC {
				char = 'q'
			}
			select {
			case keyCh <- char:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()

	printStatus(out, d.node)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			printStatus(out, d.node)
		case key := <-keyCh:
			switch key {
			case 's', 'S':
				printStatus(out, d.node)
			case 'l', 'L':
				fmt.Fprintf(out, "\n%s\n", headerColor.Sprint("Leaving the ring gracefully..."))
				leaveCtx, cancel := context.WithTimeout(ctx, leaveTimeout)
				err := d.ring.Leave(leaveCtx)
				cancel()
				if err != nil {
					fmt.Fprintf(out, "%s %v\n", color.RedString("Leave completed with errors:"), err)
				} else {
					fmt.Fprintln(out, color.GreenString("Left the ring, keys handed to the successor"))
				}
				return nil
			case 'q', 'Q':
				fmt.Fprintf(out, "\n%s\n", headerColor.Sprint("Shutting down..."))
				return nil
			}
		}
	}
}

func printStatus(out io.Writer, node *chord.ChordNode) {
	fmt.Fprint(out, "\033[2J\033[H") // Clear screen and move cursor to top
	fmt.Fprint(out, renderStatus(context.Background(), node))
}

// renderStatus formats the node's identity, neighbours, key counts and
// fingers as a colored block.
func renderStatus(ctx context.Context, node *chord.ChordNode) string {
	var b strings.Builder
	info := node.Info(ctx)

	headerColor.Fprintf(&b, "=======  Chord node %s\n", info.Node.ID.Text(16))
	row := func(label string, value any) {
		fmt.Fprintf(&b, "%s %v\n", labelColor.Sprintf("%-12s", label), value)
	}

	row("address", info.Node.Address())
	row("state", stateString(info.State))
	row("ring", fmt.Sprintf("m=%d r=%d", info.M, info.SuccessorListSize))
	row("keys", fmt.Sprintf("%d primary, %d replica", info.KeyCount, info.ReplicaCount))

	if pred, err := node.GetPredecessor(); err == nil {
		row("predecessor", nodeString(pred))
	}

	if succs, err := node.GetSuccessorList(); err == nil {
		parts := make([]string, 0, len(succs))
		for _, s := range succs {
			parts = append(parts, nodeString(s))
		}
		row("successors", strings.Join(parts, ", "))
	}

	if info.State.Serving() {
		fingers := node.FingerTable()
		labelColor.Fprintln(&b, "fingers")
		for i, f := range fingers {
			if i == maxFingerRows {
				fmt.Fprintf(&b, "  ... %d more\n", len(fingers)-maxFingerRows)
				break
			}
			if f.IsNil() {
				continue
			}
			fmt.Fprintf(&b, "  %3d  start %-12s -> %s\n", i, shortHex(f.Start.Text(16)), nodeString(f.Node))
		}
	}

	hintColor.Fprintln(&b, "\n[s] status  [l] leave ring  [q] quit")
	return b.String()
}

func stateString(state chord.NodeState) string {
	switch state {
	case chord.StateStable:
		return color.GreenString(state.String())
	case chord.StateJoining, chord.StateLeaving:
		return color.YellowString(state.String())
	case chord.StateFailed:
		return color.RedString(state.String())
	default:
		return state.String()
	}
}

func nodeString(n *chord.NodeAddress) string {
	if n.IsNil() {
		return "none"
	}
	return fmt.Sprintf("%s@%s", n.ShortID(), n.Address())
}

func shortHex(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
