package main

import (
	"crypto/ed25519"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/cybervault/meshledger/config"
	"github.com/cybervault/meshledger/ledger"
	"github.com/cybervault/meshledger/network"
)

func printBanner() {
	title, err := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Mesh", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle("Ledger", pterm.FgDarkGray.ToStyle()),
	).Srender()
	if err != nil {
		return
	}
	pterm.Print(title)
}

func printSettings(cfg *config.Config) {
	storage := cfg.Ledger.DataDir
	if cfg.Ledger.InMemory {
		storage = "in memory"
	}
	peers := "none"
	if len(cfg.Network.Peer) > 0 {
		peers = strings.Join(cfg.Network.Peer, ", ")
	}
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	pbox.WithTitle(pterm.LightCyan("|NODE|")).WithTitleTopCenter().Println(pterm.Sprintf(
		"Ledger: %s\nCipher: %s\nFraud model: %s (threshold %v)\nPeers: %s\nAPI: %s",
		storage, cfg.Crypto.Algorithm, cfg.Ingest.Model, cfg.Ingest.FraudThreshold, peers, cfg.Api.Address,
	))
}

// chainRows lays out chain as a table with a header row.
func chainRows(chain ledger.Chain) [][]string {
	rows := [][]string{{"Index", "Timestamp", "Payload", "Hash", "Previous"}}
	for _, b := range chain {
		rows = append(rows, []string{
			strconv.Itoa(b.Index),
			b.Timestamp,
			strconv.Itoa(len(b.Payload)) + " B",
			shorten(b.Hash),
			shorten(b.PrevHash),
		})
	}
	return rows
}

func shorten(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12] + "…"
}

func printChain(chain ledger.Chain) error {
	if len(chain) == 0 {
		pterm.Info.Println("The ledger is empty")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(chainRows(chain)).Render()
}

// peerRows lays out the mesh by rank, marking the local peer and whether a
// signing key was received from each of the others.
func peerRows(addresses map[int]string, self int, keys map[string]ed25519.PublicKey) [][]string {
	ranks := make([]int, 0, len(addresses))
	for rank := range addresses {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)

	rows := [][]string{{"Rank", "Peer", "Address", "Key"}}
	for _, rank := range ranks {
		id := network.PeerID(rank)
		key := "missing"
		switch {
		case rank == self:
			key = "local"
		case len(keys[id]) == ed25519.PublicKeySize:
			key = "received"
		}
		rows = append(rows, []string{strconv.Itoa(rank), id, addresses[rank], key})
	}
	return rows
}

func printPeers(addresses map[int]string, self int, keys map[string]ed25519.PublicKey) error {
	return pterm.DefaultTable.WithHasHeader().WithData(peerRows(addresses, self, keys)).Render()
}
