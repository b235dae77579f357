// btcspend builds, signs and broadcasts the unlock transaction for a
// stake deposit. The deposit's script is not a standard template, so the
// node's wallet cannot produce this spend.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/decred/slog"

	"github.com/BounceBit-Labs/btcstake/chain"
	"github.com/BounceBit-Labs/btcstake/client"
	"github.com/BounceBit-Labs/btcstake/stakedb"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file")
	datadir    = flag.String("datadir", "", "Directory for the receipt store")
	network    = flag.String("network", "", "mainnet, testnet3, signet or regtest")
	rpcHost    = flag.String("rpchost", "", "bitcoind RPC host:port")
	rpcUser    = flag.String("rpcuser", "", "bitcoind RPC user")
	rpcPass    = flag.String("rpcpass", "", "bitcoind RPC password")

	utxo    = flag.String("utxo", "", "Stake deposit to spend (txid:vout)")
	redeem  = flag.String("redeemscript", "", "Redeem script hex (default: receipt store lookup)")
	address = flag.String("address", "", "Bitcoin destination address")
	list    = flag.Bool("list", false, "List stored stake receipts and exit")
	verbose = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log := slog.NewBackend(os.Stdout).Logger("SPND")
	if *verbose {
		log.SetLevel(slog.LevelDebug)
	}

	cfg, err := client.LoadConfig(*configPath, client.Overrides{
		Network: *network,
		RPCHost: *rpcHost,
		RPCUser: *rpcUser,
		RPCPass: *rpcPass,
		DataDir: *datadir,
	})
	if err != nil {
		return err
	}

	db, err := stakedb.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer db.Close()

	if *list {
		receipts, err := db.List()
		if err != nil {
			return err
		}
		if len(receipts) == 0 {
			fmt.Println("no stake receipts")
			return nil
		}
		for _, r := range receipts {
			fmt.Printf("%s  %v  unlocks %s\n", r.OutPoint, r.Amount, r.UnlockTime().Format("2006-01-02 15:04"))
		}
		return nil
	}

	if *utxo == "" || *address == "" {
		return fmt.Errorf("missing required parameters: -utxo, -address")
	}

	node, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.RPCHost,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return err
	}
	defer node.Shutdown()

	privKey, err := promptSecret("Enter private key (WIF or hex) for signing: ")
	if err != nil {
		return err
	}

	spender := client.NewSpender(cfg, chain.NewRPCBackend(node), db, log)
	res, err := spender.SpendStake(context.Background(), &client.SpendRequest{
		UTXO:         *utxo,
		RedeemScript: *redeem,
		Destination:  *address,
		PrivKey:      privKey,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nTransaction broadcast: %s\n", res.TxID)
	fmt.Printf("  Paid out: %v (fee %v)\n", res.Amount, res.Fee)
	return nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
