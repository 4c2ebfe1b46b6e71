package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/dsoprea/go-ntfs"
)

type rootParameters struct {
	Filepath       string `short:"f" long:"filepath" description:"File-path of NTFS filesystem (or volume image)" required:"true"`
	FilenameFilter string `short:"p" long:"pattern" description:"Filename filter"`
	ShowDetail     bool   `short:"d" long:"detail" description:"Show additional entry detail"`
}

var (
	rootArguments = new(rootParameters)
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	f, err := os.Open(rootArguments.Filepath)
	log.PanicIf(err)

	defer f.Close()

	fs, err := ntfs.Open(f, ntfs.DefaultOptions())
	log.PanicIf(err)

	root, err := fs.Root()
	log.PanicIf(err)

	err = walk(root, `\`)
	log.PanicIf(err)
}

func walk(entry *ntfs.FileEntry, currentPath string) error {
	children, err := entry.Children()
	log.PanicIf(err)

	for _, child := range children {
		name := child.Name()

		if rootArguments.FilenameFilter != "" {
			isMatched, err := filepath.Match(rootArguments.FilenameFilter, name)
			log.PanicIf(err)

			if isMatched != true {
				continue
			}
		}

		childPath := currentPath + name

		if rootArguments.ShowDetail == true {
			fmt.Printf("## %s\n", childPath)
			fmt.Printf("\n")
			fmt.Printf("FileReference: %s\n", child.FileReference())
			fmt.Printf("IsDirectory: %v\n", child.IsDirectory())
			fmt.Printf("Size: %d\n", child.Size())
			fmt.Printf("ModificationTime: %s\n", child.ModificationTime())
			fmt.Printf("\n")
		} else {
			fmt.Printf("%15s %30s %s\n", humanize.Comma(int64(child.Size())), child.ModificationTime(), childPath)
		}

		if child.IsDirectory() {
			err := walk(child, childPath+`\`)
			log.PanicIf(err)
		}
	}

	return nil
}
