package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"seatctl/model"
	"seatctl/service"
)

var bookingsCmd = &cobra.Command{
	Use:   "bookings",
	Short: "List and manage your bookings",
}

var bookingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your bookings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(false)
		if err != nil {
			return err
		}
		defer env.close()

		status, _ := cmd.Flags().GetString("status")
		page, _ := cmd.Flags().GetInt("page")
		bookings, err := env.client.GetBookings(cmd.Context(), page, status)
		if err != nil {
			if service.IsAuthExpired(err) {
				return errNotSignedIn
			}
			return err
		}
		renderBookings(cmd.OutOrStdout(), bookings)
		return nil
	},
}

var bookingsCancelCmd = &cobra.Command{
	Use:   "cancel <booking-id>",
	Short: "Cancel a booking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bookingID, err := parseBookingID(args[0])
		if err != nil {
			return err
		}
		env, err := setup(false)
		if err != nil {
			return err
		}
		defer env.close()

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			confirm := promptui.Prompt{
				Label:     fmt.Sprintf("Cancel booking %d", bookingID),
				IsConfirm: true,
			}
			if _, err := confirm.Run(); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Kept.")
				return nil
			}
		}

		if err := env.client.CancelBooking(cmd.Context(), bookingID); err != nil {
			switch {
			case service.IsAuthExpired(err):
				return errNotSignedIn
			case service.IsGone(err):
				return fmt.Errorf("booking %d can no longer be cancelled", bookingID)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Booking %d cancellation requested.\n", bookingID)
		return nil
	},
}

var bookingsConfirmCmd = &cobra.Command{
	Use:   "confirm <booking-id> [checkout-id]",
	Short: "Check whether a booking's payment went through",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bookingID, err := parseBookingID(args[0])
		if err != nil {
			return err
		}
		checkoutID := ""
		if len(args) == 2 {
			checkoutID = args[1]
		}
		env, err := setup(false)
		if err != nil {
			return err
		}
		defer env.close()

		confirmed, err := env.client.TryConfirmingPayment(cmd.Context(), bookingID, checkoutID)
		if err != nil {
			if service.IsAuthExpired(err) {
				return errNotSignedIn
			}
			return err
		}
		if confirmed {
			fmt.Fprintf(cmd.OutOrStdout(), "Booking %d is paid.\n", bookingID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Booking %d is still awaiting payment.\n", bookingID)
		}
		return nil
	},
}

func init() {
	bookingsListCmd.Flags().String("status", "all", "filter by status, e.g. AWAITING_PAYMENT, PAYMENT_CONFIRMED, CANCELLED")
	bookingsListCmd.Flags().Int("page", 0, "page number, starting at 0")
	bookingsCancelCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	bookingsCmd.AddCommand(bookingsListCmd, bookingsCancelCmd, bookingsConfirmCmd)
}

func parseBookingID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid booking id %q", raw)
	}
	return id, nil
}

func renderBookings(out io.Writer, bookings model.Page[model.BookingDetail]) {
	rowConfigAutoMerge := table.RowConfig{AutoMerge: true}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Booking", "Movie", "Session", "Theater", "Status", "Seat", "Price"}, rowConfigAutoMerge)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
		{Number: 2, AutoMerge: true, WidthMax: 24},
		{Number: 3, AutoMerge: true},
		{Number: 4, AutoMerge: true, WidthMax: 20},
		{Number: 5, AutoMerge: true},
	})
	t.Style().Options.SeparateRows = true

	for _, booking := range bookings.Content {
		var items []table.Row
		status := bookingStatusLabel(booking.Status)
		when := booking.Session.StartTime.Format("Mon 02 Jan 15:04")
		for _, seat := range booking.BookedSeats {
			items = append(items, table.Row{
				booking.Id,
				booking.Movie.Title,
				when,
				booking.Session.TheaterName,
				status,
				fmt.Sprintf("%s%d %s", seat.Row, seat.Number, strings.ToLower(string(seat.Category))),
				formatPrice(seat.Price),
			})
		}
		if len(items) == 0 {
			items = append(items, table.Row{booking.Id, booking.Movie.Title, when, booking.Session.TheaterName, status, "-", "-"})
		}
		t.AppendRows(items, rowConfigAutoMerge)
		t.AppendSeparator()
	}
	t.SetCaption("page %d of %d", bookings.Number+1, max(bookings.TotalPages, 1))
	t.Render()
}

func bookingStatusLabel(status model.BookingStatus) string {
	switch status {
	case model.BookingAwaitingPayment, model.BookingPaymentRetry:
		return "awaiting payment"
	case model.BookingPaymentConfirmed:
		return "paid"
	case model.BookingAwaitingCancellation, model.BookingCancelled:
		return "cancelled"
	case model.BookingExpired:
		return "expired"
	case model.BookingPast:
		return "past"
	}
	return strings.ToLower(string(status))
}
