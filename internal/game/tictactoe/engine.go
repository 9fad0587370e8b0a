package tictactoe

// Outcome classifies the result of applying a move.
type Outcome int

// Apply outcomes.
const (
	// OutcomeContinue means the move was placed and the game goes on.
	OutcomeContinue Outcome = iota
	// OutcomeIllegalMove means the target cell was occupied or out of
	// range; the board is unchanged and the same player must move again.
	OutcomeIllegalMove
	// OutcomeWon means the move completed three-in-a-row for the mover.
	OutcomeWon
	// OutcomeTie means the move filled the last cell with no winner.
	OutcomeTie
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeIllegalMove:
		return "illegal_move"
	case OutcomeWon:
		return "won"
	case OutcomeTie:
		return "tie"
	}
	return "unknown"
}

// Terminal reports whether the outcome ends the game.
func (o Outcome) Terminal() bool {
	return o == OutcomeWon || o == OutcomeTie
}

// Result carries the outcome of a move together with the resulting board.
// On OutcomeIllegalMove the board is the input board, unchanged. On
// OutcomeWon, Winner holds the mark that completed a line.
type Result struct {
	Outcome Outcome
	Board   Board
	Winner  Mark
}

// winLines are the eight three-in-a-row cell triples: three rows, three
// columns, two diagonals. Cell numbers, not indexes.
var winLines = [8][3]int{
	{7, 8, 9}, {4, 5, 6}, {1, 2, 3},
	{1, 4, 7}, {2, 5, 8}, {3, 6, 9},
	{1, 5, 9}, {3, 5, 7},
}

// Apply places mark at the given cell number and evaluates the board.
// It is a pure function: the input board is never mutated, and the
// engine does not check whose turn it is; callers own turn enforcement.
//
// Postcondition: OutcomeIllegalMove carries the input board unchanged;
// every other outcome carries the board with exactly one more mark.
func Apply(board Board, mark Mark, cell int) Result {
	if !ValidCell(cell) || board.Cell(cell) != MarkNone {
		return Result{Outcome: OutcomeIllegalMove, Board: board}
	}

	board[cell-1] = mark

	// A win needs at least five marks on the board (three of the mover's
	// plus the opponent's two), so skip line evaluation before that.
	if board.Filled() >= 5 {
		for _, line := range winLines {
			a, b, c := board.Cell(line[0]), board.Cell(line[1]), board.Cell(line[2])
			if a != MarkNone && a == b && b == c {
				return Result{Outcome: OutcomeWon, Board: board, Winner: a}
			}
		}
	}

	if board.Full() {
		return Result{Outcome: OutcomeTie, Board: board}
	}

	return Result{Outcome: OutcomeContinue, Board: board}
}
