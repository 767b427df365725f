package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seatctl/model"
	"seatctl/reservation"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Stream live seat updates for a session",
	Long: `Subscribe to a session's seat channel and print every update until
the reservation window closes or you press Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || sessionID <= 0 {
			return fmt.Errorf("invalid session id %q", args[0])
		}
		env, err := setup(true)
		if err != nil {
			return err
		}
		defer env.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		detail, err := env.client.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		labels := make(map[int64]string, len(detail.Seats))
		for _, seat := range detail.Seats {
			labels[seat.Id] = seat.Label()
		}

		channel := reservation.NewChannel(sessionID, env.identity, env.client,
			&reservation.StompDialer{Heartbeat: env.cfg.Client.Heartbeat, Logger: env.logger},
			reservation.ChannelOptions{
				URL:            env.cfg.Client.WSURL,
				TTL:            env.cfg.Client.ReservationTTL,
				ReconnectDelay: env.cfg.Client.ReconnectDelay,
				Logger:         env.logger,
			})
		defer func() {
			if err := channel.Close(); err != nil {
				env.logger.Debug("closing seat channel", zap.Error(err))
			}
		}()
		channel.Open(ctx)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Watching %s at %s, %s (session %d).\n",
			detail.Movie.Title, detail.TheaterName, detail.StartTime.Format("Mon 02 Jan 15:04"), sessionID)
		return streamChannel(ctx.Done(), channel.Events(), labels, out)
	},
}

// streamChannel prints channel events until done closes or the channel
// reaches a terminal status.
func streamChannel(done <-chan struct{}, events <-chan reservation.ChannelEvent, labels map[int64]string, out io.Writer) error {
	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case reservation.StatusChanged:
				fmt.Fprintf(out, "%s  channel %s\n", time.Now().Format(time.TimeOnly), ev.Status)
				if ev.Status == reservation.StatusExpired {
					return nil
				}
				if ev.Status.Terminal() {
					if ev.Err != nil {
						return ev.Err
					}
					return ev.Status.Err()
				}
			case reservation.SeatUpdated:
				fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), describeUpdate(ev.Update, labels))
			case reservation.Reconnected:
				fmt.Fprintf(out, "%s  channel reconnected\n", time.Now().Format(time.TimeOnly))
			}
		}
	}
}

func describeUpdate(update model.SeatUpdate, labels map[int64]string) string {
	label, ok := labels[update.Id]
	if !ok {
		label = "seat " + strconv.FormatInt(update.Id, 10)
	}
	switch {
	case update.Taken:
		return label + " taken"
	case update.Expired():
		return label + " released (hold expired)"
	}
	return label + " released"
}
