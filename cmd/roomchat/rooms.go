package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/whisper/roomchat/internal/render"
	"github.com/whisper/roomchat/internal/rest"
)

var flagAvailable bool

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List your rooms, or rooms you can join with --available",
	Args:  cobra.NoArgs,
	RunE:  runRooms,
}

func init() {
	roomsCmd.Flags().BoolVarP(&flagAvailable, "available", "a", false, "list rooms you can join")
}

func runRooms(cmd *cobra.Command, _ []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	sess, api, err := requireSession(ctx, store)
	if err != nil {
		return err
	}
	r := render.New(sess.Username, time.Local)
	if flagAvailable {
		return printAvailable(ctx, cmd.OutOrStdout(), api, r)
	}
	return printMyRooms(ctx, cmd.OutOrStdout(), api, r)
}

func printMyRooms(ctx context.Context, w io.Writer, api *rest.Client, r *render.Renderer) error {
	rooms, err := api.MyRooms(ctx)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No rooms yet. Join one with /join <id> or create one with /create <name>.")
		return nil
	}
	fmt.Fprintln(w, "Your rooms:")
	for _, m := range rooms {
		fmt.Fprintf(w, "  %s  [%s]\n", r.Room(m.Room), m.Role)
	}
	return nil
}

func printAvailable(ctx context.Context, w io.Writer, api *rest.Client, r *render.Renderer) error {
	rooms, err := api.AvailableRooms(ctx)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No rooms available to join.")
		return nil
	}
	fmt.Fprintln(w, "Available rooms:")
	for _, room := range rooms {
		fmt.Fprintf(w, "  %s\n", r.Room(room))
	}
	return nil
}
