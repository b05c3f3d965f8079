// Command client is a terminal front end for the session layer: it
// stands in for the rendering layer, owning pacing and input while the
// internal packages keep room, position and turn state in sync with
// the relay.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"snakesync/internal/position"
	"snakesync/internal/rooms"
	"snakesync/internal/session"
	"snakesync/internal/turn"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	relayURL := os.Getenv("RELAY_URL")
	if relayURL == "" {
		relayURL = "ws://localhost:8080/ws"
	}
	userID := os.Getenv("PLAYER_ID")
	if userID == "" {
		userID = uuid.NewString()
		log.Info("no PLAYER_ID configured, generated one", zap.String("userId", userID))
	}

	sess := session.New(nil, log)
	if err := sess.Connect(context.Background(), relayURL); err != nil {
		log.Fatal("relay unreachable", zap.String("url", relayURL), zap.Error(err))
	}
	defer sess.Close()

	dir := rooms.New(sess, log)
	defer dir.Close()
	pos := position.New(sess, userID, log)
	defer pos.Close()

	var arb *turn.Arbiter
	defer func() {
		if arb != nil {
			arb.Close()
		}
	}()

	fmt.Println("commands: rooms | create <room> | join <room> | roll | state | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "rooms":
			if err := dir.ListRooms(); err != nil {
				log.Warn("list rooms", zap.Error(err))
			}
			for _, r := range dir.Rooms() {
				status := ""
				if r.Full() {
					status = " (full)"
				}
				fmt.Printf("  %s — %d player(s)%s\n", r.RoomID, len(r.Users), status)
			}

		case "create":
			if len(fields) < 2 {
				fmt.Println("usage: create <room>")
				continue
			}
			if err := dir.CreateRoom(fields[1]); err != nil {
				log.Warn("create room", zap.Error(err))
			}

		case "join":
			if len(fields) < 2 {
				fmt.Println("usage: join <room>")
				continue
			}
			if err := dir.JoinRoom(fields[1], userID); err != nil {
				log.Warn("join room", zap.Error(err))
				continue
			}
			if arb != nil {
				arb.Close()
			}
			arb = turn.New(sess, fields[1], userID, log)
			fmt.Println("joined", fields[1])

		case "roll":
			if arb == nil || !arb.CanAct() {
				fmt.Println("not your turn")
				continue
			}
			die := position.Roll()
			cur, _ := pos.Position(userID)
			if cur < position.BoardMin {
				cur = position.BoardMin
			}
			target := cur + die
			if target > position.BoardMax {
				target = position.BoardMax
			}
			landed := position.Resolve(target)
			if err := pos.SetLocal(landed); err != nil {
				log.Warn("publish position", zap.Error(err))
			}
			fmt.Printf("rolled %d: %d -> %d\n", die, cur, landed)
			if landed == position.BoardMax {
				fmt.Println("you win!")
			}
			if err := arb.CompleteAction(); err != nil {
				log.Warn("end turn", zap.Error(err))
			}

		case "state":
			fmt.Println("connected:", sess.IsConnected())
			for id, cell := range pos.Positions() {
				marker := " "
				if arb != nil && arb.Holder() == id {
					marker = "*"
				}
				fmt.Printf("  %s%s at %d\n", marker, id, cell)
			}

		case "quit":
			return

		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
