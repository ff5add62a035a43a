package main

import "github.com/fatih/color"

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

const banner = `
 ___              ___
| _ \___ ___ _ _ / __|_  _ _ _  __
|  _/ -_) -_) '_|\__ \ || | ' \/ _|
|_| \___\___|_|  |___/\_, |_||_\__|
                      |__/`
