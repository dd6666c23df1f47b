// Package robot implements input.Device with robotgo and the system clipboard.
package robot

import (
	"github.com/atotto/clipboard"
	"github.com/go-vgo/robotgo"
)

type Device struct{}

func (Device) Location() (int, int) { return robotgo.Location() }

func (Device) Move(x, y int) { robotgo.Move(x, y) }

func (Device) Click(button string) { robotgo.Click(button) }

func (Device) KeyTap(key string, modifiers ...string) error {
	args := make([]interface{}, len(modifiers))
	for i, m := range modifiers {
		args[i] = m
	}
	return robotgo.KeyTap(key, args...)
}

func (Device) Type(s string) { robotgo.TypeStr(s) }

func (Device) Scroll(dy int) { robotgo.Scroll(0, dy) }

type Clipboard struct{}

func (Clipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }
