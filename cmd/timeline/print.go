package main

import (
	"fmt"
	"strings"

	"timeline/shared/types"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func headLabel(hash string) string {
	if hash == "" {
		return color.New(color.Faint).Sprint("(empty)")
	}
	return color.YellowString(short(hash))
}

func printCheckpoint(cp types.Checkpoint, head string) {
	yellow := color.New(color.FgYellow).SprintFunc()
	blue := color.New(color.FgBlue).SprintFunc()

	marker := " "
	if cp.Hash == head {
		marker = color.GreenString("*")
	}
	fmt.Printf("%s %s %s %s\n", marker, yellow(short(cp.Hash)), blue("("+cp.Branch+")"), cp.Message)
	fmt.Printf("    %s, %s by %s\n",
		humanize.Time(cp.CreatedAt),
		humanize.IBytes(uint64(cp.Size)),
		cp.Author)
}

func printInfo(info *types.RepositoryInfo) {
	label := color.New(color.FgCyan).SprintFunc()
	fmt.Printf("%s %s\n", label("Repository:"), info.Path)
	fmt.Printf("%s %s\n", label("Project:   "), info.ProjectID)
	fmt.Printf("%s %s\n", label("Backend:   "), info.Backend)
	fmt.Printf("%s %s\n", label("Created:   "), humanize.Time(info.CreatedAt))
	fmt.Printf("%s %s\n", label("Branch:    "), color.GreenString(info.CurrentBranch))
	fmt.Printf("%s %d\n", label("Branches:  "), info.Branches)
	fmt.Printf("%s %s\n", label("Checkpoints:"), humanize.Comma(int64(info.Checkpoints)))
}

func printDiff(d *types.Diff) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	from := d.From
	if from == "" {
		from = "(empty)"
	}
	header.Printf("%s..%s  +%d -%d\n", short(from), short(d.To), d.Additions, d.Deletions)
	if d.Patch == "" {
		fmt.Println("No changes")
		return
	}
	for _, line := range strings.Split(strings.TrimSuffix(d.Patch, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}
