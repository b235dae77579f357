// btcstake locks BTC behind a CLTV script and attaches the BB chain
// staking record.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/decred/slog"

	"github.com/BounceBit-Labs/btcstake"
	"github.com/BounceBit-Labs/btcstake/chain"
	"github.com/BounceBit-Labs/btcstake/chainwatcher"
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

	pubkey     = flag.String("pubkey", "", "Compressed staking pubkey (hex)")
	days       = flag.Uint("days", 0, "Lock period in days")
	amountBTC  = flag.String("amount", "", "Stake amount in BTC")
	bbAddress  = flag.String("bbaddress", "", "BB chain address (0x...)")
	changeAddr = flag.String("changeaddress", "", "Bitcoin change address")
	utxos      = flag.String("utxos", "", "Comma-separated txid:vout list to spend")
	verify     = flag.Bool("verify", false, "Cross-check derived addresses via the node")
	yes        = flag.Bool("yes", false, "Skip the confirmation prompt")
	waitConfs  = flag.Uint("wait", 0, "Block until the stake output has this many confirmations")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log := slog.NewBackend(os.Stdout).Logger("STAK")
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

	amount, err := parseAmount(*amountBTC)
	if err != nil {
		return err
	}
	if *days == 0 || *days > 0xffff {
		return fmt.Errorf("-days must be in 1..65535")
	}
	utxoList := splitList(*utxos)
	if *pubkey == "" || *bbAddress == "" || *changeAddr == "" || len(utxoList) == 0 {
		return fmt.Errorf("missing required parameters: -pubkey, -bbaddress, -changeaddress, -utxos")
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

	db, err := stakedb.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer db.Close()

	staker, err := client.NewStaker(cfg, chain.NewRPCBackend(node), db, log)
	if err != nil {
		return err
	}

	unlock := time.Now().Add(time.Duration(*days) * 24 * time.Hour)
	fmt.Printf("Stake details:\n")
	fmt.Printf("  BB address:     %s\n", *bbAddress)
	fmt.Printf("  Amount:         %s BTC\n", *amountBTC)
	fmt.Printf("  Lock period:    %d days (until ~%s)\n", *days, unlock.Format(time.RFC1123))
	fmt.Printf("  Change address: %s\n", *changeAddr)
	fmt.Printf("  UTXOs:          %s\n", strings.Join(utxoList, ", "))
	if !*yes && !confirm("Confirm data and proceed?") {
		return fmt.Errorf("aborted")
	}

	wif, err := promptSecret("Enter private key (WIF) for signing: ")
	if err != nil {
		return err
	}

	res, err := staker.CreateStake(context.Background(), &client.StakeRequest{
		PubKey:        *pubkey,
		Days:          uint16(*days),
		Amount:        amount,
		Recipient:     *bbAddress,
		ChangeAddress: *changeAddr,
		UTXOs:         utxoList,
		PrivKeyWIF:    wif,
		Verify:        *verify,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nTransaction broadcast: %s\n", res.TxID)
	fmt.Printf("\nSave for unlocking:\n")
	fmt.Printf("  UTXO:          %s:0\n", res.TxID)
	fmt.Printf("  Redeem script: %x\n", res.RedeemScript)
	fmt.Printf("  P2WSH address: %s\n", res.SegwitAddress)
	fmt.Printf("  P2SH address:  %s\n", res.LegacyAddress)
	fmt.Printf("  Unlock time:   %s\n", time.Unix(int64(res.LockTime), 0).Format(time.RFC1123))

	if *waitConfs > 0 {
		return awaitDeposit(cfg, node, log, res, uint32(*waitConfs))
	}
	return nil
}

// awaitDeposit watches the chain until the stake output reaches the
// requested depth.
func awaitDeposit(cfg *client.Config, node *rpcclient.Client, log slog.Logger,
	res *client.StakeResult, confs uint32) error {

	net, err := cfg.ChainParams()
	if err != nil {
		return err
	}
	pkScript, _, err := btcstake.WitnessScriptPubKey(res.RedeemScript, net)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher := chainwatcher.New(log, node)
	go watcher.Run(ctx)
	defer watcher.Stop()

	updates, unsub := watcher.Subscribe(hex.EncodeToString(pkScript))
	defer unsub()

	fmt.Printf("\nWaiting for %d confirmation(s)...\n", confs)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-updates:
			if !u.Funded {
				continue
			}
			log.Debugf("deposit: confs=%d utxos=%d", u.Confs, u.UTXOCount)
			if u.Confs >= confs {
				fmt.Printf("Stake confirmed at depth %d.\n", u.Confs)
				return nil
			}
		}
	}
}

func parseAmount(s string) (btcutil.Amount, error) {
	if s == "" {
		return 0, fmt.Errorf("-amount is required")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q: %w", s, err)
	}
	return btcutil.NewAmount(f)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
