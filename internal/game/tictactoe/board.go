// Package tictactoe implements a pure, I/O-free 3x3 turn-based game
// engine. It knows nothing about networking or player identities; turn
// enforcement belongs to the caller.
package tictactoe

import "fmt"

// Mark is the symbol a player places on the board.
type Mark byte

// Board marks. MarkNone represents an empty cell.
const (
	MarkNone Mark = ' '
	MarkX    Mark = 'X'
	MarkO    Mark = 'O'
)

// Valid reports whether m is a placeable player mark.
func (m Mark) Valid() bool {
	return m == MarkX || m == MarkO
}

// Other returns the opposing mark.
//
// Precondition: m must be MarkX or MarkO.
func (m Mark) Other() Mark {
	if m == MarkX {
		return MarkO
	}
	return MarkX
}

func (m Mark) String() string {
	return string(rune(m))
}

// Cells is the number of positions on the board.
const Cells = 9

// Board holds the nine cells of a game, indexed by cell number 1-9 in
// NumPad layout:
//
//	7|8|9
//	-+-+-
//	4|5|6
//	-+-+-
//	1|2|3
type Board [Cells]Mark

// NewBoard returns an empty board.
func NewBoard() Board {
	var b Board
	for i := range b {
		b[i] = MarkNone
	}
	return b
}

// ValidCell reports whether cell is a playable position number.
func ValidCell(cell int) bool {
	return cell >= 1 && cell <= Cells
}

// Cell returns the mark at the given cell number.
//
// Precondition: cell must satisfy ValidCell.
func (b Board) Cell(cell int) Mark {
	return b[cell-1]
}

// Filled returns the number of occupied cells. The invariant that the
// filled count equals the number of moves applied holds because Apply
// never clears a cell and a terminal board is never mutated.
func (b Board) Filled() int {
	n := 0
	for _, m := range b {
		if m != MarkNone {
			n++
		}
	}
	return n
}

// Full reports whether every cell is occupied.
func (b Board) Full() bool {
	return b.Filled() == Cells
}

// Render returns the board as display text in NumPad layout.
func (b Board) Render() string {
	return fmt.Sprintf("%c|%c|%c\n-+-+-\n%c|%c|%c\n-+-+-\n%c|%c|%c",
		b[6], b[7], b[8],
		b[3], b[4], b[5],
		b[0], b[1], b[2],
	)
}

// HelpBoard is the cell-number reference shown to players.
const HelpBoard = "Use the NumPad to select the space you want...\n" +
	"\n" +
	"7|8|9\n" +
	"-+-+-\n" +
	"4|5|6\n" +
	"-+-+-\n" +
	"1|2|3\n"
