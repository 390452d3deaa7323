package normalize

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalytics/parley/internal/bus"
	"github.com/scalytics/parley/internal/search"
	"github.com/scalytics/parley/internal/session"
)

type fakeDirectory struct{}

func (fakeDirectory) MemberName(_ context.Context, id string) (string, bool) {
	names := map[string]string{"U1": "alice", "U2": "bob"}
	n, ok := names[id]
	return n, ok
}

func (fakeDirectory) RoleName(_ context.Context, id string) (string, bool) {
	if id == "S1" {
		return "devs", true
	}
	return "", false
}

func (fakeDirectory) ChannelName(_ context.Context, id string) (string, bool) {
	if id == "C1" {
		return "general", true
	}
	return "", false
}

type fakeDownloader struct {
	data map[string][]byte
}

func (d fakeDownloader) Download(_ context.Context, url string) ([]byte, error) {
	b, ok := d.data[url]
	if !ok {
		return nil, errors.New("404")
	}
	return b, nil
}

type fakeVision struct {
	mu    sync.Mutex
	mimes []string
}

func (v *fakeVision) DescribeImage(_ context.Context, _ []byte, mimeType string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mimes = append(v.mimes, mimeType)
	return "a cat", nil
}

type fakeSearcher struct {
	kind  search.Kind
	fail  bool
	mu    sync.Mutex
	calls []string
}

func (s *fakeSearcher) Kind() search.Kind { return s.kind }

func (s *fakeSearcher) SearchByURL(_ context.Context, url string) (*search.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, url)
	s.mu.Unlock()
	if s.fail {
		return nil, errors.New("backend down")
	}
	// the summary deliberately embeds the url again
	return &search.Result{Annotation: search.Annotation(s.kind.Label(), "T", "about "+url)}, nil
}

func (s *fakeSearcher) SearchByQuery(context.Context, string) (*search.Result, error) {
	return nil, errors.New("unused")
}

type fixture struct {
	n      *Normalizer
	video  *fakeSearcher
	gif    *fakeSearcher
	web    *fakeSearcher
	vision *fakeVision
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		video:  &fakeSearcher{kind: search.KindYouTube},
		gif:    &fakeSearcher{kind: search.KindGIF},
		web:    &fakeSearcher{kind: search.KindWebsite},
		vision: &fakeVision{},
	}
	reg := search.Registry{search.KindYouTube: f.video, search.KindGIF: f.gif, search.KindWebsite: f.web}
	dl := fakeDownloader{data: map[string][]byte{
		"https://files/cat.png": {0x89, 'P', 'N', 'G'},
		"https://files/cat.gif": tinyGIF(t),
	}}
	f.n = New(fakeDirectory{}, dl, f.vision, reg, nil, Options{AssistantID: "UBOT"}, nil)
	return f
}

func tinyGIF(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

func inbound(content string) *bus.InboundMessage {
	return &bus.InboundMessage{
		MessageID:  "100.1",
		AuthorID:   "U1",
		AuthorName: "alice",
		Content:    content,
		Timestamp:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)),
	}
}

func TestReplaceMentions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got := f.n.ReplaceMentions(ctx, "<@UBOT> hey <@U2|bob> ask <!subteam^S1|@devs> in <#C1|general>, <!here>")
	assert.Equal(t, "hey bob ask devs in general, @here", got)

	got = f.n.ReplaceMentions(ctx, "<@U404> <!subteam^S9> <#C9>")
	assert.Equal(t, "<Unknown User> <Unknown Role> <Unknown Channel>", got)

	assert.Equal(t, "no tokens", f.n.ReplaceMentions(ctx, "no tokens"))
}

func TestReplaceFirstLinkPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	text := "web <https://go.dev/doc> gif <https://giphy.com/gifs/dance-123> vid <https://youtu.be/dQw4w9WgXcQ|rick>"

	out, changed := f.n.ReplaceFirstLink(ctx, text)
	require.True(t, changed)
	assert.Equal(t, "web <https://go.dev/doc> gif <https://giphy.com/gifs/dance-123> vid [YouTube ::: T ::: about https://youtu.be/dQw4w9WgXcQ]", out)
	assert.Empty(t, f.gif.calls)
	assert.Empty(t, f.web.calls)

	out, changed = f.n.ReplaceFirstLink(ctx, out)
	require.True(t, changed)
	assert.Contains(t, out, "gif [GIF ::: T ::: about https://giphy.com/gifs/dance-123]")
	assert.Contains(t, out, "web <https://go.dev/doc>")
}

func TestReplaceLinksReachesFixpoint(t *testing.T) {
	f := newFixture(t)
	out := f.n.ReplaceLinks(context.Background(), "a https://go.dev/a. and <https://go.dev/b> and https://go.dev/a")
	assert.Equal(t,
		"a [Website ::: T ::: about https://go.dev/a]. and [Website ::: T ::: about https://go.dev/b] and [Website ::: T ::: about https://go.dev/a]",
		out)
	// annotated urls never re-enter the lookup
	assert.Len(t, f.web.calls, 3)

	_, changed := f.n.ReplaceFirstLink(context.Background(), out)
	assert.False(t, changed)
}

func TestReplaceLinksFailureUsesFallback(t *testing.T) {
	f := newFixture(t)
	f.web.fail = true
	out := f.n.ReplaceLinks(context.Background(), "see https://example.com")
	assert.Equal(t, "see [Website ::: No Title ::: No Description Available]", out)

	noBackends := New(nil, nil, nil, nil, nil, Options{}, nil)
	out = noBackends.ReplaceLinks(context.Background(), "<https://tenor.com/view/x>")
	assert.Equal(t, "[GIF ::: No Title ::: No Description Available]", out)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, search.KindYouTube, classify("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.Equal(t, search.KindYouTube, classify("https://m.youtube.com/watch?feature=share&v=dQw4w9WgXcQ"))
	assert.Equal(t, search.KindGIF, classify("https://media.giphy.com/media/x/giphy.gif"))
	assert.Equal(t, search.KindGIF, classify("https://tenor.com/view/x"))
	assert.Equal(t, search.KindWebsite, classify("https://notgiphy.com/x"))
	assert.Equal(t, search.KindWebsite, classify("https://www.youtube.com/"))
}

func TestNormalizeParticipantMessage(t *testing.T) {
	f := newFixture(t)
	msg := inbound("<@UBOT> what is this?")
	msg.ReplyTo = &bus.ReplyRef{MessageID: "99.0", AuthorID: "U2"}
	msg.Attachments = []bus.Attachment{
		{URL: "https://files/cat.png", ContentType: "image/png"},
		{URL: "https://files/cat.gif", ContentType: "image/gif"},
		{URL: "https://files/notes.txt", ContentType: "text/plain"},
		{URL: "https://files/missing.jpg", ContentType: "image/jpeg"},
	}

	got, ok := f.n.Normalize(context.Background(), msg)
	require.True(t, ok)
	assert.Equal(t, session.RoleUser, got.Role)
	assert.Equal(t, "alice: what is this? [Image ::: a cat] [Image ::: a cat] [Image ::: No Description Available]", got.Content)
	assert.Equal(t, "100.1", got.MessageID)
	assert.Equal(t, "99.0", got.TargetMessageID)
	assert.Equal(t, time.UTC, got.Timestamp.Location())
	assert.Equal(t, []string{"image/png", "image/png"}, f.vision.mimes)
}

func TestNormalizeAssistantMessageHasNoPrefix(t *testing.T) {
	f := newFixture(t)
	msg := inbound("sure, here you go")
	msg.AuthorID = "UBOT"
	got, ok := f.n.Normalize(context.Background(), msg)
	require.True(t, ok)
	assert.Equal(t, session.RoleAssistant, got.Role)
	assert.Equal(t, "sure, here you go", got.Content)
}

func TestNormalizeEmptyContent(t *testing.T) {
	f := newFixture(t)
	for _, content := range []string{"", "   ", "<@UBOT>", " <@UBOT>  "} {
		_, ok := f.n.Normalize(context.Background(), inbound(content))
		assert.False(t, ok, "%q", content)
	}
	_, ok := f.n.Normalize(context.Background(), nil)
	assert.False(t, ok)

	noID := inbound("hello")
	noID.MessageID = ""
	_, ok = f.n.Normalize(context.Background(), noID)
	assert.False(t, ok)
}

func TestNormalizeAuthorNameFallbacks(t *testing.T) {
	f := newFixture(t)
	msg := inbound("hi")
	msg.AuthorName = ""
	got, _ := f.n.Normalize(context.Background(), msg)
	assert.Equal(t, "alice: hi", got.Content)

	msg.AuthorID = "U777"
	got, _ = f.n.Normalize(context.Background(), msg)
	assert.Equal(t, "U777: hi", got.Content)
}

func TestNormalizeTruncates(t *testing.T) {
	n := New(nil, nil, nil, nil, nil, Options{MaxContentLength: 10}, nil)
	got, ok := n.Normalize(context.Background(), inbound(strings.Repeat("é", 50)))
	require.True(t, ok)
	assert.Equal(t, "alice: ééé", got.Content)
}

func TestSetAssistantID(t *testing.T) {
	n := New(nil, nil, nil, nil, nil, Options{}, nil)
	n.SetAssistantID("UNEW")
	assert.Equal(t, "hi", n.ReplaceMentions(context.Background(), "<@UNEW> hi"))
}
