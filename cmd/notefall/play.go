package main

import (
	"context"
	"fmt"
	"image/color"
	"path/filepath"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/spf13/cobra"

	"github.com/cbegin/notefall-go"
	"github.com/cbegin/notefall-go/internal/audio"
	"github.com/cbegin/notefall-go/internal/clock"
	"github.com/cbegin/notefall-go/internal/keyboard"
	"github.com/cbegin/notefall-go/internal/midifile"
	"github.com/cbegin/notefall-go/internal/render"
	"github.com/cbegin/notefall-go/internal/ticker"
)

const (
	minWindowW = 640
	minWindowH = 360

	seekStep = 5.0
	rateStep = 0.1
	minRate  = 0.5
	maxRate  = 2.0
	zoomStep = 1.15
)

var (
	bgColor        = color.RGBA{16, 16, 24, 255}
	strikeColor    = color.RGBA{200, 60, 60, 255}
	whiteKeyColor  = color.RGBA{236, 236, 236, 255}
	blackKeyColor  = color.RGBA{24, 24, 24, 255}
	litWhiteColor  = color.RGBA{120, 190, 255, 255}
	litBlackColor  = color.RGBA{40, 110, 200, 255}
	keyBorderColor = color.RGBA{96, 96, 96, 255}

	muteKeys = [...]ebiten.Key{
		ebiten.KeyDigit1, ebiten.KeyDigit2, ebiten.KeyDigit3,
		ebiten.KeyDigit4, ebiten.KeyDigit5, ebiten.KeyDigit6,
		ebiten.KeyDigit7, ebiten.KeyDigit8, ebiten.KeyDigit9,
	}
)

var playTicker bool

func init() {
	addPlaybackFlags(playCmd)
	playCmd.Flags().BoolVar(&playTicker, "ticker", false, "run audio scheduling on a background ticker instead of the game loop")
	rootCmd.AddCommand(playCmd)
}

var playCmd = &cobra.Command{
	Use:   "play <file.mid>",
	Short: "Opens a window and plays a MIDI file as falling notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyPlaybackFlags(cmd); err != nil {
			return err
		}
		tl, err := midifile.Load(args[0])
		if err != nil {
			return err
		}
		g, err := newGame()
		if err != nil {
			return err
		}
		defer g.Close()
		g.session.Load(tl)

		// One Update per display refresh, so the frame port follows vsync.
		ebiten.SetTPS(ebiten.SyncWithFPS)
		ebiten.SetWindowSize(cfg.Window.Width, cfg.Window.Height)
		ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
		ebiten.SetWindowSizeLimits(minWindowW, minWindowH, -1, -1)
		ebiten.SetWindowTitle(fmt.Sprintf("notefall - %s", filepath.Base(args[0])))
		return ebiten.RunGame(g)
	},
}

// pianoKeys is the on-screen keyboard. The render loop lights and releases
// keys through it.
type pianoKeys struct {
	mu  sync.Mutex
	lit [128]bool
}

func (k *pianoKeys) Activate(p int) {
	k.mu.Lock()
	k.lit[p] = true
	k.mu.Unlock()
}

func (k *pianoKeys) Deactivate(p int) {
	k.mu.Lock()
	k.lit[p] = false
	k.mu.Unlock()
}

func (k *pianoKeys) isLit(p int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lit[p]
}

type game struct {
	session *notefall.Session
	pool    *render.Pool
	keys    *pianoKeys
	pump    *ticker.Pump
	events  <-chan clock.Event

	// Set with --ticker.
	bgTicker *ticker.Ticker
	bgCancel context.CancelFunc

	lastUpdate time.Time
	status     string
	viewW      int
	viewH      int
}

func newGame() (*game, error) {
	engine, err := newSynth()
	if err != nil {
		return nil, err
	}
	g := &game{
		pool: render.NewRectPool(cfg.Render.PoolCapacity),
		keys: &pianoKeys{},
		pump: ticker.NewPump(),
	}
	factory := audio.Factory(cfg.SampleRate, engine, audio.WithBufferSize(50*time.Millisecond))
	s, err := notefall.New(engine, factory, g.keys, g.pool,
		notefall.WithConfig(cfg),
		notefall.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	g.session = s
	g.events = s.Watch()
	if playTicker {
		ctx, cancel := context.WithCancel(context.Background())
		g.bgTicker, g.bgCancel = ticker.NewTicker(ctx), cancel
		s.Attach(g.pump, g.bgTicker)
		logger.Debug("scheduling on background ticker", "interval", cfg.ScheduleInterval())
	} else {
		s.Attach(g.pump, g.pump)
	}
	g.setStatus("space: play/pause  s: stop  arrows: seek/zoom  +/-: rate  1-9: mute")
	return g, nil
}

func (g *game) Update() error {
	now := time.Now()
	if !g.lastUpdate.IsZero() {
		g.pump.Step(now.Sub(g.lastUpdate))
	}
	g.lastUpdate = now
	g.pollEvents()
	g.handleKeys()
	return nil
}

func (g *game) pollEvents() {
	for {
		select {
		case ev, ok := <-g.events:
			if !ok {
				return
			}
			if ev.Ended {
				g.setStatus("playback completed")
			}
		default:
			return
		}
	}
}

func (g *game) handleKeys() {
	s := g.session
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeySpace):
		if err := s.Toggle(); err != nil {
			g.setStatus(err.Error())
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyS):
		s.Stop()
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft):
		s.SeekBy(-seekStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowRight):
		s.SeekBy(seekStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyEqual), inpututil.IsKeyJustPressed(ebiten.KeyNumpadAdd):
		g.nudgeRate(rateStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyMinus), inpututil.IsKeyJustPressed(ebiten.KeyNumpadSubtract):
		g.nudgeRate(-rateStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowUp):
		s.SetPixelsPerSecond(s.PixelsPerSecond() * zoomStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowDown):
		s.SetPixelsPerSecond(s.PixelsPerSecond() / zoomStep)
	}
	for i, k := range muteKeys {
		if inpututil.IsKeyJustPressed(k) {
			muted := !s.TrackMuted(i)
			s.SetTrackMuted(i, muted)
			g.setStatus(fmt.Sprintf("track %d muted: %v", i+1, muted))
		}
	}
}

func (g *game) nudgeRate(delta float64) {
	r := clamp(g.session.PlaybackRate()+delta, minRate, maxRate)
	if err := g.session.SetPlaybackRate(r); err != nil {
		g.setStatus(err.Error())
		return
	}
	g.setStatus(fmt.Sprintf("rate %.0f%%", r*100))
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)
	g.session.View(func(loop *render.Loop, metrics *keyboard.Metrics) {
		for i := 0; i < g.pool.Active(); i++ {
			r := g.pool.At(i).(*render.Rect)
			ebitenutil.DrawRect(screen, r.X, r.Y, r.W, r.H, r.Color())
		}
		strike := loop.StrikeY()
		ebitenutil.DrawRect(screen, 0, strike-1, float64(g.viewW), 2, strikeColor)
		g.drawKeyboard(screen, metrics, strike, float64(g.viewH)-strike)
	})
	st := g.session.State()
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%s  %6.2f / %6.2fs  rate %.0f%%  drift %+5.1fms  notes %d  %s",
		st.Clock, st.Time, st.Duration, st.Rate*100, st.Drift*1000, st.Visible, g.status), 8, 8)
}

// drawKeyboard draws white keys first so black keys sit on top.
func (g *game) drawKeyboard(screen *ebiten.Image, m *keyboard.Metrics, top, height float64) {
	for p := m.Low(); p <= m.High(); p++ {
		if keyboard.IsBlack(p) {
			continue
		}
		x, w := m.X(p), m.KeyWidth(p)
		fill := whiteKeyColor
		if g.keys.isLit(p) {
			fill = litWhiteColor
		}
		ebitenutil.DrawRect(screen, x, top, w, height, keyBorderColor)
		ebitenutil.DrawRect(screen, x+1, top, w-2, height-1, fill)
	}
	for p := m.Low(); p <= m.High(); p++ {
		if !keyboard.IsBlack(p) {
			continue
		}
		fill := blackKeyColor
		if g.keys.isLit(p) {
			fill = litBlackColor
		}
		ebitenutil.DrawRect(screen, m.X(p), top, m.KeyWidth(p), height*0.62, fill)
	}
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	outsideW = max(outsideW, minWindowW)
	outsideH = max(outsideH, minWindowH)
	if outsideW != g.viewW || outsideH != g.viewH {
		g.viewW, g.viewH = outsideW, outsideH
		g.session.Resize(float64(outsideW), float64(outsideH))
	}
	return outsideW, outsideH
}

func (g *game) Close() {
	if err := g.session.Close(); err != nil {
		logger.Warn("close session", "err", err)
	}
	if g.bgTicker != nil {
		g.bgCancel()
		g.bgTicker.Wait()
	}
}

func (g *game) setStatus(msg string) {
	g.status = msg
}

func clamp(v, minV, maxV float64) float64 {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
