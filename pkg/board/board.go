package board

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultWidth  = 8
	DefaultHeight = 8
	// MaxDimension is the largest width or height a new board may be created with.
	MaxDimension = 64
)

var (
	ErrOutOfBounds  = errors.New("cell out of bounds")
	ErrInvalidValue = errors.New("cell value must be 0 or 1")
)

// Board is a width x height grid of binary cells stored row-major. The zero value is an empty 0x0 board.
// Boards are treated as values: nothing mutates a Board in place once it has been constructed.
type Board struct {
	width  int
	height int
	cells  [][]uint8
}

// New returns a board with every cell off.
func New(width, height int) Board {
	if width <= 0 || height <= 0 {
		return Board{}
	}
	cells := make([][]uint8, height)
	for y := range cells {
		cells[y] = make([]uint8, width)
	}
	return Board{width: width, height: height, cells: cells}
}

// FromRows builds a board from nested rows. Every row must have the same length and hold only 0 or 1.
func FromRows(rows [][]int) (Board, error) {
	if len(rows) == 0 {
		return Board{}, nil
	}
	width := len(rows[0])
	if width == 0 {
		return Board{}, fmt.Errorf("invalid dimensions 0x%d", len(rows))
	}
	b := New(width, len(rows))
	for y, row := range rows {
		if len(row) != width {
			return Board{}, fmt.Errorf("row %d has %d cells, expected %d", y, len(row), width)
		}
		for x, v := range row {
			if v != 0 && v != 1 {
				return Board{}, fmt.Errorf("%w: got %d at (%d,%d)", ErrInvalidValue, v, x, y)
			}
			b.cells[y][x] = uint8(v)
		}
	}
	return b, nil
}

// FromFlat builds a board from a row-major flat slice as stored in a board document.
func FromFlat(width, height int, values []int64) (Board, error) {
	if width < 0 || height < 0 {
		return Board{}, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if len(values) != width*height {
		return Board{}, fmt.Errorf("expected %d cells for %dx%d board, got %d", width*height, width, height, len(values))
	}
	if width == 0 || height == 0 {
		// a 0xN board cannot keep its dimensions
		if width != height {
			return Board{}, fmt.Errorf("invalid dimensions %dx%d", width, height)
		}
		return Board{}, nil
	}
	b := New(width, height)
	for i, v := range values {
		if v != 0 && v != 1 {
			return Board{}, fmt.Errorf("%w: got %d at index %d", ErrInvalidValue, v, i)
		}
		b.cells[i/width][i%width] = uint8(v)
	}
	return b, nil
}

func (b Board) Width() int {
	return b.width
}

func (b Board) Height() int {
	return b.height
}

// Empty is true for the 0x0 board an adapter holds before it has loaded.
func (b Board) Empty() bool {
	return b.width == 0 || b.height == 0
}

func (b Board) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.width && y < b.height
}

func (b Board) checkBounds(x, y int) error {
	if !b.InBounds(x, y) {
		return fmt.Errorf("%w: (%d,%d) outside %dx%d board", ErrOutOfBounds, x, y, b.width, b.height)
	}
	return nil
}

func (b Board) Get(x, y int) (int, error) {
	if err := b.checkBounds(x, y); err != nil {
		return 0, err
	}
	return int(b.cells[y][x]), nil
}

// WithCell returns a copy of the board with cell (x,y) set to v.
func (b Board) WithCell(x, y, v int) (Board, error) {
	if err := b.checkBounds(x, y); err != nil {
		return Board{}, err
	}
	if v != 0 && v != 1 {
		return Board{}, fmt.Errorf("%w: got %d", ErrInvalidValue, v)
	}
	out := b.clone()
	out.cells[y][x] = uint8(v)
	return out, nil
}

// WithToggled returns a copy of the board with cell (x,y) flipped.
func (b Board) WithToggled(x, y int) (Board, error) {
	v, err := b.Get(x, y)
	if err != nil {
		return Board{}, err
	}
	return b.WithCell(x, y, 1-v)
}

// OnCount is the number of cells set to 1.
func (b Board) OnCount() int {
	n := 0
	for _, row := range b.cells {
		for _, v := range row {
			n += int(v)
		}
	}
	return n
}

// Rows returns a deep copy of the cells.
func (b Board) Rows() [][]int {
	out := make([][]int, b.height)
	for y, row := range b.cells {
		out[y] = make([]int, b.width)
		for x, v := range row {
			out[y][x] = int(v)
		}
	}
	return out
}

func (b Board) Equal(other Board) bool {
	if b.width != other.width || b.height != other.height {
		return false
	}
	for y := range b.cells {
		for x := range b.cells[y] {
			if b.cells[y][x] != other.cells[y][x] {
				return false
			}
		}
	}
	return true
}

// String renders the board one row per line, '#' for on and '.' for off.
func (b Board) String() string {
	var sb strings.Builder
	for _, row := range b.cells {
		for _, v := range row {
			if v == 1 {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (b Board) clone() Board {
	out := Board{width: b.width, height: b.height, cells: make([][]uint8, len(b.cells))}
	for y, row := range b.cells {
		out.cells[y] = append([]uint8(nil), row...)
	}
	return out
}
