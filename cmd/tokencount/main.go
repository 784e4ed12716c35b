// Command tokencount prints the prompt tokens of a chat request.
//
// Input is JSON read from a file argument or stdin: either an array of
// messages or a request object with model, messages and tools.
//
//	tokencount -model gpt-4o conversation.json
//	cat request.json | tokencount -json
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/boerz-coding/camel/internal/config"
	"github.com/boerz-coding/camel/internal/domain"
	"github.com/boerz-coding/camel/internal/tokens"
)

const defaultModel = "gpt-4"

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// report is the -json output.
type report struct {
	Model         string `json:"model"`
	InputTokens   int    `json:"input_tokens"`
	Messages      int    `json:"messages"`
	Tools         int    `json:"tools,omitempty"`
	ContextWindow int    `json:"context_window,omitempty"`
	RulesVersion  string `json:"rules_version"`
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tokencount", flag.ContinueOnError)
	fs.SetOutput(stderr)
	model := fs.String("model", "", "model to count for (default: the request's model, else "+defaultModel+")")
	asJSON := fs.Bool("json", false, "print a JSON report instead of the bare count")
	strict := fs.Bool("strict", false, "also require every tool response to answer an earlier tool call")
	configPath := fs.String("config", "", "config file providing custom counting rules")
	verbose := fs.Bool("v", false, "log debug output to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	fail := func(err error) int {
		logger.Error("tokencount failed", slog.String("error", err.Error()))
		return 1
	}

	rules := tokens.DefaultRuleSet()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return fail(err)
		}
		if rules, err = cfg.RuleSet(); err != nil {
			return fail(err)
		}
	}

	input := stdin
	if fs.NArg() > 0 {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return fail(err)
		}
		defer f.Close()
		input = f
	}

	req, err := readRequest(input)
	if err != nil {
		return fail(err)
	}
	switch {
	case *model != "":
		req.Model = *model
	case req.Model == "":
		req.Model = defaultModel
	}
	logger.Debug("counting",
		slog.String("model", req.Model),
		slog.Int("messages", len(req.Messages)),
		slog.Int("tools", len(req.Tools)),
	)

	if *strict {
		if err := domain.ValidateConversation(req.Messages); err != nil {
			return fail(err)
		}
	}

	counter := tokens.NewOpenAICounter(rules)
	resp, err := counter.CountTokens(context.Background(), req)
	if err != nil {
		return fail(err)
	}

	if !*asJSON {
		fmt.Fprintln(stdout, resp.InputTokens)
		return 0
	}

	window, _ := counter.ContextWindow(req.Model)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report{
		Model:         req.Model,
		InputTokens:   resp.InputTokens,
		Messages:      len(req.Messages),
		Tools:         len(req.Tools),
		ContextWindow: window,
		RulesVersion:  resp.RulesVersion,
	}); err != nil {
		return fail(err)
	}
	return 0
}

// readRequest accepts a bare message array or a request object.
func readRequest(r io.Reader) (*domain.TokenCountRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("no input: expected a JSON message array or request object")
	}

	var req domain.TokenCountRequest
	if data[0] == '[' {
		if err := json.Unmarshal(data, &req.Messages); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
		return &req, nil
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}
