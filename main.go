package main

import (
	"os"

	"github.com/toncenter/nano-wallet-gateway/cmd"
)

//	@title			Nano Wallet Gateway
//	@version		1.0.0
//	@description	Wallet gateway in front of a Nano or Banano node: sessions, confirmations, push notifications and prices.

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
