package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/AlAfiz/starked-education/internal/model"
)

// ------- generic builders -------

// kvList collects repeated -set k=v flags.
type kvList []string

func (l *kvList) String() string     { return strings.Join(*l, ",") }
func (l *kvList) Set(v string) error { *l = append(*l, v); return nil }

// parseKV turns k=v pairs into a payload. Later keys win.
func parseKV(pairs []string) (model.Payload, error) {
	p := model.Payload{}
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("bad pair %q, want key=value", kv)
		}
		p[k] = v
	}
	return p, nil
}

// progressPayload packs one lesson's completion into a progress entity.
func progressPayload(course, lesson string, percent int, at time.Time) model.Payload {
	return model.Payload{
		"courseId": course,
		"lessons":  map[string]any{lesson: percent},
		"updated":  at.UTC().Format(time.RFC3339),
	}
}

// ------- validators -------

func autoID(id *string) {
	if *id == "" {
		v, _ := uuid.NewV7()
		*id = v.String()
	}
}

func validPercent(p int) bool { return p >= 0 && p <= 100 }

// ------- commands -------

// cmdProgress records lesson progress inside a course entity.
func cmdProgress(ctx context.Context, t transport, device string, args []string) {
	fs := flag.NewFlagSet("progress", flag.ExitOnError)
	course := fs.String("course", "", "course id (entity id)")
	lesson := fs.String("lesson", "", "lesson id")
	percent := fs.Int("percent", -1, "completion 0..100")
	ver := fs.Int64("version", 0, "last server version seen")
	offline := fs.Bool("offline", false, "queue instead of syncing now")
	_ = fs.Parse(args)

	if *course == "" || *lesson == "" {
		fmt.Fprintln(os.Stderr, "need -course and -lesson")
		os.Exit(2)
	}
	if !validPercent(*percent) {
		fmt.Fprintln(os.Stderr, "percent must be within 0..100")
		os.Exit(2)
	}
	in := model.SyncInput{
		DeviceID: device, EntityType: model.EntityProgress, EntityID: *course,
		Version: *ver, Payload: progressPayload(*course, *lesson, *percent, time.Now()),
	}
	cc, cli := connect(ctx, t)
	defer cc.Close()
	submit(ctx, cli, in, "", *offline)
}

// cmdPrefs updates preference keys; the server merges them field by field.
func cmdPrefs(ctx context.Context, t transport, device string, args []string) {
	fs := flag.NewFlagSet("prefs", flag.ExitOnError)
	var sets kvList
	fs.Var(&sets, "set", "key=value (repeatable)")
	id := fs.String("id", "default", "preferences entity id")
	ver := fs.Int64("version", 0, "last server version seen")
	offline := fs.Bool("offline", false, "queue instead of syncing now")
	_ = fs.Parse(args)

	p, err := parseKV(sets)
	if err == nil && len(p) == 0 {
		err = errors.New("need at least one -set")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	in := model.SyncInput{
		DeviceID: device, EntityType: model.EntityPreferences, EntityID: *id,
		Version: *ver, Payload: p,
	}
	cc, cli := connect(ctx, t)
	defer cc.Close()
	submit(ctx, cli, in, "", *offline)
}

// cmdNote creates or replaces a note.
func cmdNote(ctx context.Context, t transport, device string, args []string) {
	fs := flag.NewFlagSet("note", flag.ExitOnError)
	id := fs.String("id", "", "note id (generated when empty)")
	title := fs.String("title", "", "title")
	text := fs.String("text", "", "text")
	ver := fs.Int64("version", 0, "last server version seen (0 for new)")
	offline := fs.Bool("offline", false, "queue instead of syncing now")
	_ = fs.Parse(args)

	autoID(id)
	if *text == "" {
		fmt.Fprintln(os.Stderr, "text required")
		os.Exit(2)
	}
	op := model.OpUpdate
	if *ver == 0 {
		op = model.OpCreate
	}
	in := model.SyncInput{
		DeviceID: device, EntityType: model.EntityNotes, EntityID: *id,
		Version: *ver, Operation: op,
		Payload: model.Payload{"title": choose(*title, "untitled"), "text": *text},
	}
	cc, cli := connect(ctx, t)
	defer cc.Close()
	submit(ctx, cli, in, "", *offline)
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
func choose(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
