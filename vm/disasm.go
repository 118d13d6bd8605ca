package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatOp renders one instruction, e.g. "Add r2 r0 r1".
func FormatOp(op Op) string {
	info, ok := op.Code.Info()
	if !ok {
		return op.Code.String()
	}
	var sb strings.Builder
	sb.WriteString(info.Name)
	regs := [...]RegAddr{op.Dest, op.A, op.B, op.C}
	if op.Code == OpDecons {
		regs = [...]RegAddr{op.Dest, op.B, op.A, 0}
	}
	for _, r := range regs[:info.Regs] {
		fmt.Fprintf(&sb, " r%d", r)
	}
	switch op.Code {
	case OpStore:
		sb.WriteString(" ")
		sb.WriteString(op.Prim.String())
	case OpJmpTarget:
		fmt.Fprintf(&sb, " r%d t%d", op.A, op.Target)
	case OpJmpAddr:
		fmt.Fprintf(&sb, " r%d @%d", op.A, op.Addr)
	case OpReturn:
		fmt.Fprintf(&sb, " r%d", op.A)
	}
	if info.Named {
		sb.WriteString(" ")
		sb.WriteString(strconv.Quote(op.Name))
	}
	return sb.String()
}

// Disassemble returns a listing of seg, one instruction per line, followed
// by its target table.
func Disassemble(seg *Segment) string {
	var sb strings.Builder
	for i, op := range seg.ops {
		fmt.Fprintf(&sb, "%04d  %s\n", i, FormatOp(op))
	}
	for i, id := range seg.targets {
		fmt.Fprintf(&sb, "  t%d -> seg %d\n", i, id)
	}
	return sb.String()
}

// Listing renders the ops of seg separated by "; ", without addresses.
func Listing(seg *Segment) string {
	parts := make([]string, len(seg.ops))
	for i, op := range seg.ops {
		parts[i] = FormatOp(op)
	}
	return strings.Join(parts, "; ")
}
