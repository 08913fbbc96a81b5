package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/manningwu07/minigpt/train"
)

// plotLoss draws a crude vertical bar chart of the per-epoch loss, scaled so
// the largest loss fills the full height.
func plotLoss(w io.Writer, history []train.EpochStats) {
	const height = 10 // number of text rows
	n := len(history)
	if n == 0 {
		fmt.Fprintln(w, "no data to plot")
		return
	}
	peak := 0.0
	for _, st := range history {
		peak = max(peak, st.Loss)
	}
	if peak <= 0 {
		peak = 1
	}

	var sb strings.Builder
	for row := height; row >= 1; row-- {
		threshold := float64(row) / float64(height)
		for _, st := range history {
			if st.Loss/peak >= threshold {
				sb.WriteString("█")
			} else {
				sb.WriteString(" ")
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Repeat("─", n))
	sb.WriteString("\n")
	// epoch index every 5 columns
	for i := range history {
		if i%5 == 0 {
			sb.WriteString(strconv.Itoa(i % 10))
		} else {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("\n")
	fmt.Fprint(w, sb.String())
}
