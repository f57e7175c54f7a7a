package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/INLOpen/basalt/config"
	"github.com/INLOpen/basalt/engine"
)

// basalt is a small interactive shell over the storage engine: put, get,
// delete, scan and flush commands against a local data directory.

func main() {
	configPath := flag.String("config", "basalt.yaml", "Path to the configuration file")
	dataDir := flag.String("data-dir", "", "Override the data directory from the config")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Engine.DataDir = *dataDir
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %v\n", err)
		os.Exit(1)
	}

	eng, err := engine.Open(engine.Options{
		DataDir:           cfg.Engine.DataDir,
		MemtableThreshold: cfg.Engine.Memtable.SizeThresholdBytes,
		MinFlushThreshold: cfg.Engine.Memtable.MinFlushThreshold,
		SSTableBlockSize:  cfg.Engine.SSTable.BlockSizeBytes,
		Compression:       cfg.Engine.SSTable.Compression,
		FlushWorkers:      cfg.Engine.FlushWorkers,
		FlushInterval:     config.ParseDuration(cfg.Engine.Memtable.FlushInterval, time.Second, logger),
		Logger:            logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open engine: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("basalt shell, data dir %s. Commands: put <k> <v>, get <k>, del <k>, scan, quit.\n", cfg.Engine.DataDir)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "put":
			if len(fields) != 3 {
				fmt.Println("usage: put <key> <value>")
				continue
			}
			if err := eng.Put([]byte(fields[1]), []byte(fields[2])); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "get":
			if len(fields) != 2 {
				fmt.Println("usage: get <key>")
				continue
			}
			v, ok, err := eng.Get([]byte(fields[1]))
			switch {
			case err != nil:
				fmt.Printf("error: %v\n", err)
			case !ok:
				fmt.Println("(not found)")
			default:
				fmt.Printf("%s\n", v)
			}
		case "del":
			if len(fields) != 2 {
				fmt.Println("usage: del <key>")
				continue
			}
			if err := eng.Delete([]byte(fields[1])); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "scan":
			it, err := eng.NewIterator()
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			n := 0
			for it.SeekToFirst(); it.Valid(); it.Next() {
				fmt.Printf("%s = %s\n", it.Key(), it.Value())
				n++
			}
			if err := it.Error(); err != nil {
				fmt.Printf("error: %v\n", err)
			}
			it.Close()
			fmt.Printf("(%d entries)\n", n)
		case "quit", "exit":
			if err := eng.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "close engine: %v\n", err)
				os.Exit(1)
			}
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
	if err := eng.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close engine: %v\n", err)
		os.Exit(1)
	}
}
