package cmd

import (
	"fmt"
	"log"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
)

// KeygenCmd generates a VAPID keypair for a new deployment.
var KeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a VAPID keypair",
	Long:  "Generate the VAPID keypair used to sign push messages. Run once per deployment; rotating the keys invalidates every existing subscription.",
	Run:   runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) {
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		log.Fatalf("failed to generate VAPID keys: %v", err)
	}
	fmt.Printf("PUSHRELAY_VAPID_PUBLIC_KEY=%s\n", public)
	fmt.Printf("PUSHRELAY_VAPID_PRIVATE_KEY=%s\n", private)
}
