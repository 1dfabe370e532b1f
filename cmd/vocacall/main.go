// Vocacall: CLI call endpoint.
//
// Connects to a signaling hub and places or answers one-to-one audio/video
// calls. Recording starts only while both parties consent.
//
// Flags override the config file: -config, -call <user id> to dial
// immediately, -source (device or silence) and -debug.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/app"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/call"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/config"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

var version = "dev"

const (
	optCall    = "Call someone"
	optAccept  = "Accept"
	optDecline = "Decline"
	optCancel  = "Cancel"
	optEnd     = "End call"
	optMute    = "Mute / unmute"
	optCamera  = "Camera on / off"
	optScreen  = "Share screen / stop sharing"
	optConsent = "Grant / revoke recording consent"
	optStatus  = "Show status"
	optQuit    = "Quit"
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	flag.String("config", "", "Path to the config file (or CONFIG_PATH)")
	callee := flag.String("call", "", "User id to call right away")
	conversation := flag.String("conversation", "", "Conversation id attached to the invite")
	source := flag.String("source", "", "Media source: device or silence")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.MustLoad()
	if *debugMode || cfg.Debug {
		util.EnableDebug()
	}
	if *source != "" {
		cfg.Media.Source = *source
	}

	pterm.Info.Println(fmt.Sprintf("Vocacall v%s as %s", version, cfg.Identity.Name))
	pterm.Println()

	client, err := app.NewClient(ctx, config.NewLive(cfg), nil)
	if err != nil {
		util.LogError("failed to start: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	client.OnStateChange(func(s call.State) {
		v := client.View()
		switch s {
		case call.StateConnected:
			util.LogSuccess("connected with %s", v.Remote.Name)
		case call.StateFailed:
			util.LogError("call failed: %s", v.LastError)
		case call.StateEnded:
			if v.LastError != "" {
				util.LogInfo("call ended: %s", v.LastError)
			} else {
				util.LogInfo("call ended")
			}
		default:
			util.LogInfo("call %s", s)
		}
	})
	client.OnIncoming(func(in call.Incoming) {
		pterm.Println()
		util.LogInfo("incoming call from %s (%s)", in.Caller.Name, in.Caller.ID)
	})

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx, config.Path()) }()

	if *callee != "" {
		<-client.Ready()
		dial(client, *callee, *conversation)
	}
	go menu(ctx, client, stop)

	if err := <-runErr; err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("signed off")
}

// menu offers the actions valid in the current state until ctx is done.
func menu(ctx context.Context, c *app.Client, quit func()) {
	for ctx.Err() == nil {
		opts := options(c.View())
		choice, err := pterm.DefaultInteractiveSelect.
			WithOptions(opts).
			WithDefaultText(fmt.Sprintf("[%s]", c.State())).
			Show()
		if err != nil {
			quit()
			return
		}

		switch choice {
		case optCall:
			raw, _ := pterm.DefaultInteractiveTextInput.
				WithDefaultText("User id to call").
				Show()
			dial(c, strings.TrimSpace(raw), "")
		case optAccept:
			c.AcceptCall()
		case optDecline:
			c.DeclineCall()
		case optCancel, optEnd:
			c.EndCall()
		case optMute:
			c.ToggleMute()
		case optCamera:
			c.ToggleCamera()
		case optScreen:
			if c.View().ScreenSharing {
				c.StopScreenShare()
			} else {
				c.StartScreenShare()
			}
		case optConsent:
			c.SetConsent(!c.View().Consent.Local)
		case optStatus:
			printStatus(c.View())
		case optQuit:
			c.EndCall()
			quit()
			return
		}
		// Let the dispatcher apply the action before redrawing.
		time.Sleep(100 * time.Millisecond)
		pterm.Println()
	}
}

func options(v call.View) []string {
	switch {
	case v.State == call.StateRinging && v.Role == call.RoleResponder:
		return []string{optAccept, optDecline, optStatus}
	case v.State == call.StateRinging:
		return []string{optCancel, optStatus}
	case v.State.Active():
		return []string{optMute, optCamera, optScreen, optConsent, optStatus, optEnd}
	}
	return []string{optCall, optStatus, optQuit}
}

func dial(c *app.Client, callee, conversation string) {
	if callee == "" {
		util.LogWarning("no user id given")
		return
	}
	id, err := c.Invite(call.Participant{ID: callee, Name: callee}, conversation)
	if err != nil {
		util.LogWarning("cannot call %s: %v", callee, err)
		return
	}
	util.LogInfo("calling %s (call %s)", callee, id)
}

func printStatus(v call.View) {
	rows := pterm.TableData{
		{"state", string(v.State)},
		{"remote", v.Remote.Name},
		{"duration", v.Duration.Truncate(time.Second).String()},
		{"muted", fmt.Sprint(v.Muted)},
		{"camera off", fmt.Sprint(v.CameraOff)},
		{"screen", fmt.Sprint(v.ScreenSharing)},
		{"consent", fmt.Sprintf("local=%t remote=%t", v.Consent.Local, v.Consent.Remote)},
		{"recording", fmt.Sprintf("%t (%s)", v.Recording, v.RecordingElapsed.Truncate(time.Second))},
		{"tracks", fmt.Sprintf("%d local, %d remote", len(v.LocalTracks), len(v.RemoteTracks))},
	}
	if v.LastError != "" {
		rows = append(rows, []string{"last error", v.LastError})
	}
	_ = pterm.DefaultTable.WithData(rows).Render()
}
