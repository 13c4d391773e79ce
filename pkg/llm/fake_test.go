package llm

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/artkit-ai/artkit/pkg/models"
)

type chatCall struct {
	system  string
	message string
	history []models.ChatMessage
	params  models.Params
}

type recorder struct {
	mu    sync.Mutex
	calls []chatCall
}

func (r *recorder) add(c chatCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() chatCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

type fakeChat struct {
	id     string
	system string
	params models.Params
	rec    *recorder
	reply  func(c chatCall) ([]string, error)
	closed int
}

func newFakeChat(id string, reply func(c chatCall) ([]string, error)) *fakeChat {
	if reply == nil {
		reply = func(c chatCall) ([]string, error) { return []string{"echo: " + c.message}, nil }
	}
	return &fakeChat{id: id, rec: &recorder{}, reply: reply}
}

func (f *fakeChat) ModelID() string            { return f.id }
func (f *fakeChat) ModelParams() models.Params { return maps.Clone(f.params) }
func (f *fakeChat) SystemPrompt() string       { return f.system }

func (f *fakeChat) WithSystemPrompt(prompt string) ChatModel {
	cp := *f
	cp.system = prompt
	return &cp
}

func (f *fakeChat) Close() error {
	f.closed++
	return nil
}

func (f *fakeChat) Respond(_ context.Context, message string, history *History, params models.Params) ([]string, error) {
	c := chatCall{system: f.system, message: message, history: history.Messages(0), params: params}
	f.rec.add(c)
	return f.reply(c)
}

type fakeCompletion struct {
	id     string
	params models.Params
	rec    *recorder
	reply  func(prompt string) (string, error)
}

func (f *fakeCompletion) ModelID() string            { return f.id }
func (f *fakeCompletion) ModelParams() models.Params { return maps.Clone(f.params) }

func (f *fakeCompletion) Complete(_ context.Context, prompt string, params models.Params) (string, error) {
	f.rec.add(chatCall{message: prompt, params: params})
	if f.reply != nil {
		return f.reply(prompt)
	}
	return "completion of " + prompt, nil
}

type fakeDiffusion struct {
	id     string
	params models.Params
	rec    *recorder
}

func (f *fakeDiffusion) ModelID() string            { return f.id }
func (f *fakeDiffusion) ModelParams() models.Params { return maps.Clone(f.params) }

func (f *fakeDiffusion) TextToImage(_ context.Context, text string, params models.Params) ([]Image, error) {
	f.rec.add(chatCall{message: text, params: params})
	// latin-1 style bytes that are not valid UTF-8
	return []Image{{Data: []byte("\x89PNG\r\n\x1a\n" + text)}, {Data: []byte{0xff, 0x00, 0xfe}}}, nil
}

type fakeVision struct {
	id  string
	rec *recorder
}

func (f *fakeVision) ModelID() string            { return f.id }
func (f *fakeVision) ModelParams() models.Params { return nil }

func (f *fakeVision) ImageToText(_ context.Context, image Image, prompt string, params models.Params) ([]string, error) {
	f.rec.add(chatCall{message: prompt, params: params})
	return []string{fmt.Sprintf("%d bytes, asked %q", len(image.Data), prompt)}, nil
}
