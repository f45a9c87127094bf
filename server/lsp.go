package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/parens/compiler"
	"github.com/chazu/parens/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "parens-lsp"

var lspLog = commonlog.GetLogger("parens.lsp")

// LanguageServer answers editor requests for parens documents. Every VM
// access goes through its own VMWorker.
type LanguageServer struct {
	worker *VMWorker

	mu   sync.Mutex
	docs map[string]string // by document URI

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server wrapping the given VM. Completion and
// hover consult its globals; diagnostics come from its compiler.
func NewLSP(v *vm.VM) *LanguageServer {
	worker := NewVMWorker(v)
	s := &LanguageServer{
		worker:  worker,
		docs:    map[string]string{},
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.didOpen,
		TextDocumentDidChange: s.didChange,
		TextDocumentDidClose:  s.didClose,

		TextDocumentCompletion: s.completion,
		TextDocumentHover:      s.hoverAt,
		TextDocumentDefinition: s.definitionAt,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run serves the protocol on stdin/stdout until the client goes away.
func (s *LanguageServer) Run() error {
	return s.server.RunStdio()
}

// Lifecycle

func (s *LanguageServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"("},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LanguageServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LanguageServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LanguageServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// Documents

func (s *LanguageServer) didOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publish(ctx, uri, text)
	return nil
}

func (s *LanguageServer) didChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// Full sync: the newest change holds the whole document.
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publish(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LanguageServer) didClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Closed documents keep no diagnostics.
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LanguageServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// Requests

func (s *LanguageServer) completion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)

	result, err := s.worker.Do(func(v *vm.VM) any {
		return complete(v, prefix)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *LanguageServer) hoverAt(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(v *vm.VM) any {
		return hover(v, word)
	})
	if err != nil || result == nil {
		return nil, nil
	}

	return result.(*protocol.Hover), nil
}

func (s *LanguageServer) definitionAt(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	s.mu.Lock()
	docs := make(map[string]string, len(s.docs))
	for uri, t := range s.docs {
		docs[uri] = t
	}
	s.mu.Unlock()

	// The requesting document first, then every other open one.
	if locs := definitions(params.TextDocument.URI, text, word); len(locs) > 0 {
		return locs, nil
	}
	uris := make([]string, 0, len(docs))
	for uri := range docs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	var locations []protocol.Location
	for _, uri := range uris {
		if uri == string(params.TextDocument.URI) {
			continue
		}
		locations = append(locations, definitions(protocol.DocumentUri(uri), docs[uri], word)...)
	}
	if len(locations) == 0 {
		return nil, nil
	}
	return locations, nil
}

// Queries below run on the worker goroutine.

// complete offers special forms and global names starting with prefix.
func complete(v *vm.VM, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem

	for _, name := range compiler.SpecialForms {
		if strings.HasPrefix(name, prefix) {
			kind := protocol.CompletionItemKindKeyword
			detail := "special form"
			nameCopy := name
			items = append(items, protocol.CompletionItem{
				Label:      name,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &nameCopy,
			})
		}
	}

	for _, name := range v.GlobalNames() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		val, _ := v.Lookup(name)
		kind := protocol.CompletionItemKindVariable
		if vm.IsCallable(val) {
			kind = protocol.CompletionItemKindFunction
		}
		detail := val.Kind().String()
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

// hover describes a special form or a global binding.
func hover(v *vm.VM, word string) *protocol.Hover {
	var b strings.Builder

	for _, name := range compiler.SpecialForms {
		if name == word {
			fmt.Fprintf(&b, "**%s**\n\nspecial form", word)
			return markdown(b.String())
		}
	}

	val, ok := v.Lookup(word)
	if !ok {
		return nil
	}

	fmt.Fprintf(&b, "**%s** : %s\n\n", word, val.Kind())
	switch fn := val.(type) {
	case *vm.Closure:
		fmt.Fprintf(&b, "```lisp\n%s\n```", signature(word, fn.Chunk))
	case *vm.Native:
		if fn.Arity >= 0 {
			fmt.Fprintf(&b, "built-in, %d arguments", fn.Arity)
		} else {
			fmt.Fprintf(&b, "built-in, at least %d arguments", fn.Min)
		}
	default:
		fmt.Fprintf(&b, "```lisp\n%s\n```", val)
	}
	return markdown(b.String())
}

// signature renders a lambda's parameter list as a call form.
func signature(name string, c *vm.Chunk) string {
	parts := append([]string{name}, c.Params...)
	if c.Rest != "" {
		parts = append(parts, ".", c.Rest)
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func markdown(text string) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: text,
		},
	}
}

// definitions finds top-level (define name ...) and (define (name ...) ...)
// forms for word in text.
func definitions(uri protocol.DocumentUri, text, word string) []protocol.Location {
	nodes, err := compiler.ParseString(text)
	if err != nil {
		return nil
	}

	var locations []protocol.Location
	for _, node := range nodes {
		list, ok := node.List()
		if !ok || len(list.Children) < 2 {
			continue
		}
		if head, _ := list.Children[0].Symbol(); head != "define" {
			continue
		}
		target := list.Children[1]
		if sig, ok := target.List(); ok && len(sig.Children) > 0 {
			target = sig.Children[0]
		}
		if name, ok := target.Symbol(); ok && string(name) == word {
			locations = append(locations, protocol.Location{
				URI:   uri,
				Range: rangeAt(target.Pos.Line, target.Pos.Column, len(word)),
			})
		}
	}
	return locations
}

// Diagnostics

func (s *LanguageServer) publish(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	result, err := s.worker.Do(func(v *vm.VM) any {
		return diagnose(v, text)
	})
	if err != nil {
		lspLog.Errorf("diagnosing %s: %s", uri, err)
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: result.([]protocol.Diagnostic),
	})
}

// diagnose compiles text without running it and reports the first error.
func diagnose(v *vm.VM, text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}
	if _, err := v.Compile(text); err != nil {
		severity := protocol.DiagnosticSeverityError
		source := lspName
		code := protocol.IntegerOrString{Value: vm.ErrorKind(err)}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    rangeAt(vm.ErrorLine(err), vm.ErrorColumn(err), 1),
			Severity: &severity,
			Code:     &code,
			Source:   &source,
			Message:  err.Error(),
		})
	}
	return diagnostics
}

// rangeAt converts a 1-based line and column into an LSP range of width
// characters. Unknown positions map to the start of the document.
func rangeAt(line, column, width int) protocol.Range {
	if line < 1 {
		line = 1
	}
	if column < 1 {
		column = 1
	}
	start := protocol.Position{Line: protocol.UInteger(line - 1), Character: protocol.UInteger(column - 1)}
	end := start
	end.Character += protocol.UInteger(width)
	return protocol.Range{Start: start, End: end}
}

// Cursor helpers

// isSymbolChar reports whether ch can be part of a symbol.
func isSymbolChar(ch rune) bool {
	if unicode.IsSpace(ch) {
		return false
	}
	switch ch {
	case '(', ')', '"', '\'', '`', '~', ';':
		return false
	}
	return true
}

// lineAt returns the line the cursor is on and the cursor column clamped
// to it.
func lineAt(text string, pos protocol.Position) ([]rune, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return nil, 0, false
	}
	line := []rune(lines[pos.Line])
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	return line, col, true
}

// extractPrefix returns the symbol fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	// Walk backwards from cursor to find the start of the symbol
	start := col
	for start > 0 && isSymbolChar(line[start-1]) {
		start--
	}
	return string(line[start:col])
}

// extractWord returns the full symbol under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isSymbolChar(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isSymbolChar(line[end]) {
		end++
	}
	return string(line[start:end])
}

func boolPtr(b bool) *bool {
	return &b
}
