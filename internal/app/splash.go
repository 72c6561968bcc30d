package app

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"sheetview/internal/storage"
)

const splashFrame = 80 * time.Millisecond

// Splash animates the program name while open runs and returns its result.
// Esc or Ctrl+C gives up waiting and returns context.Canceled; a source that
// opens afterwards is closed.
func Splash(ctx context.Context, s tcell.Screen, name string, open func(context.Context) (storage.Source, error)) (storage.Source, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		src storage.Source
		err error
	}
	done := make(chan result, 1)
	go func() {
		src, err := open(ctx)
		done <- result{src, err}
	}()
	abandon := func() {
		go func() {
			if r := <-done; r.src != nil {
				r.src.Close()
			}
		}()
	}

	events := make(chan tcell.Event, 8)
	quit := make(chan struct{})
	go s.ChannelEvents(events, quit)
	defer close(quit)

	ticker := time.NewTicker(splashFrame)
	defer ticker.Stop()

	reveal := 0
	drawSplash(s, name, reveal)
	for {
		select {
		case r := <-done:
			return r.src, r.err
		case <-ctx.Done():
			abandon()
			return nil, ctx.Err()
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyEsc || ev.Key() == tcell.KeyCtrlC {
					cancel()
					abandon()
					return nil, context.Canceled
				}
			case *tcell.EventResize:
				s.Sync()
			}
		case <-ticker.C:
			reveal++
		}
		drawSplash(s, name, reveal)
	}
}

var splashTitle = []struct {
	char  rune
	color tcell.Color
}{
	{'S', tcell.ColorWhite},
	{'H', tcell.ColorWhite},
	{'E', tcell.ColorWhite},
	{'E', tcell.ColorWhite},
	{'T', tcell.ColorWhite},
	{':', tcell.ColorYellow},
	{'V', tcell.ColorYellow},
	{'I', tcell.ColorYellow},
	{'E', tcell.ColorYellow},
	{'W', tcell.ColorYellow},
}

// drawSplash shows the first reveal letters of the title and a hint naming
// the file being opened.
func drawSplash(s tcell.Screen, name string, reveal int) {
	s.Clear()
	width, height := s.Size()
	startX := (width - len(splashTitle)) / 2
	y := height / 2

	for i := 0; i < minInt(reveal, len(splashTitle)); i++ {
		style := tcell.StyleDefault.Foreground(splashTitle[i].color).Bold(true)
		s.SetContent(startX+i, y, splashTitle[i].char, nil, style)
	}

	hint := "Opening " + name + "…  (Esc to cancel)"
	hw := minInt(runewidth.StringWidth(hint), width)
	printText(s, (width-hw)/2, y+2, hint, tcell.StyleDefault.Foreground(tcell.ColorYellow), hw)
	s.Show()
}
