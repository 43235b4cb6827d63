package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"rag-bridge-be/internal/config"
	"rag-bridge-be/internal/pkg/logger"
	"rag-bridge-be/pkg/rag"
	"rag-bridge-be/pkg/rag/factory"
)

// ragctl exercises a configured backend from the command line. It reads the
// same environment as the REST server.

func usage() {
	fmt.Println(`Usage: ragctl <command> [args]

Commands:
  health                         check backend reachability
  kbs                            list knowledge bases
  list                           list documents in the default knowledge base
  upload <file>                  upload a file and trigger parsing
  delete <document-id>           delete a document
  retrieve <query>               retrieve chunks (-method, -top-k flags)
  chat <query>                   stream one chat turn`)
}

// Pretty print JSON helper
func prettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(b))
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := config.Load()
	if err := cfg.Rag.Validate(); err != nil {
		color.Red("Invalid configuration: %v", err)
		os.Exit(1)
	}

	svc, err := factory.NewRagService(cfg.Rag.Provider, rag.Credentials{
		Route:   cfg.Rag.Route,
		APIKey:  cfg.Rag.APIKey,
		ChatKey: cfg.Rag.ChatKey,
		ChatId:  cfg.Rag.ChatId,
	}, logger.NewNopLogger())
	if err != nil {
		color.Red("Failed to initialize provider: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	kb := cfg.Rag.DefaultKnowledgeBase
	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "health":
		if err := svc.CheckHealth(ctx); err != nil {
			color.Red("Backend unreachable: %v", err)
			os.Exit(1)
		}
		color.Green("Backend reachable (%s)", cfg.Rag.Provider)

	case "kbs":
		kbs, err := svc.ListKnowledgeBases(ctx)
		if err != nil {
			color.Red("Failed: %v", err)
			os.Exit(1)
		}
		for _, k := range kbs {
			fmt.Printf("%s  %s  (%d documents)\n", k.Id, k.Name, k.DocumentCount)
		}

	case "list":
		docs, err := svc.GetAllDocuments(ctx, kb)
		if err != nil {
			color.Red("Failed: %v", err)
			os.Exit(1)
		}
		for _, d := range docs {
			fmt.Printf("%s  %-10s  %s\n", d.Id, d.Status, d.Name)
		}

	case "upload":
		if len(args) < 1 {
			usage()
			os.Exit(1)
		}
		content, err := os.ReadFile(args[0])
		if err != nil {
			color.Red("Failed to read file: %v", err)
			os.Exit(1)
		}
		doc, err := svc.UploadDocumentAndParse(ctx, kb, content, filepath.Base(args[0]), nil)
		if err != nil {
			color.Red("Upload failed: %v", err)
			os.Exit(1)
		}
		color.Green("Uploaded %s (status: %s)", doc.Id, doc.Status)
		prettyPrint(doc)

	case "delete":
		if len(args) < 1 {
			usage()
			os.Exit(1)
		}
		if err := svc.DeleteDocument(ctx, kb, args[0]); err != nil {
			color.Red("Delete failed: %v", err)
			os.Exit(1)
		}
		color.Green("Deleted %s", args[0])

	case "retrieve":
		fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
		method := fs.String("method", "semantic", "retrieval method: semantic|keyword|hybrid|full_text")
		topK := fs.Int("top-k", 5, "number of chunks to return")
		fs.Parse(args)
		if fs.NArg() < 1 {
			usage()
			os.Exit(1)
		}
		chunks, err := svc.RetrieveChunks(ctx, kb, fs.Arg(0), rag.RetrievalMethod(*method), *topK)
		if err != nil {
			color.Red("Retrieve failed: %v", err)
			os.Exit(1)
		}
		for i, c := range chunks {
			color.Yellow("[%d] score=%.4f  %s", i+1, c.Score, c.DocumentName)
			fmt.Println(c.Content)
		}

	case "chat":
		if len(args) < 1 {
			usage()
			os.Exit(1)
		}
		fragments, err := svc.ChatStream(ctx, kb, nil, args[0])
		if err != nil {
			color.Red("Chat failed: %v", err)
			os.Exit(1)
		}
		for f := range fragments {
			switch f.Kind {
			case rag.FragmentToken:
				fmt.Print(f.Text)
			case rag.FragmentCitation:
				fmt.Println()
				color.Cyan("-- %d source chunks --", len(f.Chunks))
			case rag.FragmentError:
				fmt.Println()
				color.Red("Stream error: %s", f.Err)
				os.Exit(1)
			case rag.FragmentDone:
				fmt.Println()
			}
		}

	default:
		usage()
		os.Exit(1)
	}
}
