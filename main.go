package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/realpolitik/push-relay/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "push-relay",
	Short: "Push notification relay",
	Long:  "Fans world-event notifications out to subscribed devices, filtered by per-device delivery rules",
}

func init() {
	rootCmd.AddCommand(cmd.ServerCmd)
	rootCmd.AddCommand(cmd.KeygenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
