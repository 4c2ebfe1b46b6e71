package main

import (
	"io"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/dsoprea/go-ntfs"
)

type rootParameters struct {
	Filepath    string `short:"f" long:"filepath" description:"File-path of NTFS filesystem (or volume image)" required:"true"`
	EntryPath   string `short:"e" long:"entry-path" description:"Backslash-separated path of the file to extract" required:"true"`
	OutputPath  string `short:"o" long:"output-path" description:"Where to write the extracted file" required:"true"`
	StreamName  string `short:"s" long:"stream-name" description:"Extract a named alternate data stream instead of the default stream"`
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

	entry, err := fs.FileEntryByUtf16Path(rootArguments.EntryPath)
	log.PanicIf(err)

	var reader ntfs.BlockReader
	var size uint64

	if rootArguments.StreamName != "" {
		streams := entry.AlternateDataStreams()

		found := false
		for i := range streams {
			if streams[i].Name() == rootArguments.StreamName {
				reader = &streams[i]
				size = streams[i].Size()
				found = true
				break
			}
		}

		if found != true {
			log.Panicf("no alternate data stream named (%s)", rootArguments.StreamName)
		}
	} else {
		reader, err = entry.DataStream()
		log.PanicIf(err)

		size = entry.Size()
	}

	out, err := os.Create(rootArguments.OutputPath)
	log.PanicIf(err)

	defer out.Close()

	_, err = io.Copy(out, io.NewSectionReader(reader, 0, int64(size)))
	log.PanicIf(err)
}
