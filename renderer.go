package main

import (
	"strings"
)

type boardOptions struct {
	indent           string
	newlineCharacter string
}

// WithIndent prefixes every rendered line, for nesting inside log output.
func WithIndent(indent string) func(*boardOptions) {
	return func(o *boardOptions) {
		o.indent = indent
	}
}

// WithNewlineCharacter overrides the line separator.
func WithNewlineCharacter(newline string) func(*boardOptions) {
	return func(o *boardOptions) {
		o.newlineCharacter = newline
	}
}

// visualizeBoard renders the board as ASCII for log output: an x border,
// dots for empty cells, f food, g gold, w walls, t teleporters, and one
// letter per living snake (uppercase head).
func visualizeBoard(b *Board, options ...func(*boardOptions)) string {
	opts := &boardOptions{
		indent:           "",
		newlineCharacter: "\n",
	}
	for _, opt := range options {
		opt(opts)
	}

	if b == nil || b.Width <= 0 || b.Height <= 0 {
		return opts.indent + "Invalid board dimensions"
	}

	// Extend the board by 1 in every direction for the border.
	extendedWidth := b.Width + 2
	extendedHeight := b.Height + 2

	grid := make([][]rune, extendedHeight)
	for y := range grid {
		grid[y] = make([]rune, extendedWidth)
		for x := range grid[y] {
			if y == 0 || y == extendedHeight-1 || x == 0 || x == extendedWidth-1 {
				grid[y][x] = 'x'
			} else {
				grid[y][x] = '.'
			}
		}
	}

	place := func(x, y int, c rune) {
		if x < 0 || x >= b.Width || y < 0 || y >= b.Height {
			return
		}
		grid[y+1][x+1] = c
	}

	for _, food := range b.Food {
		if !food.Hidden {
			place(food.X, food.Y, 'f')
		}
	}
	for _, gold := range b.Gold {
		place(gold.X, gold.Y, 'g')
	}
	for _, wall := range b.Walls {
		place(wall.X, wall.Y, 'w')
	}
	for _, teleporter := range b.Teleporters {
		place(teleporter.X, teleporter.Y, 't')
	}

	for i, snake := range b.SnakesInOrder() {
		if !snake.Alive() {
			continue
		}
		letter := 'a' + rune(i%26)
		for j, segment := range snake.Body {
			c := letter
			if j == 0 {
				c = c - 'a' + 'A'
			}
			place(segment.X, segment.Y, c)
		}
	}

	var sb strings.Builder
	for _, row := range grid {
		sb.WriteString(opts.indent)
		sb.WriteString(string(row))
		sb.WriteString(opts.newlineCharacter)
	}
	return sb.String()
}
