// Command storage-node runs a DSM storage node: serve starts the HTTP
// surface and background engines, selftest exercises the crypto
// subsystem once and exits, keygen prints a fresh KEM keypair.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dsm-storage-node/internal/api"
	"dsm-storage-node/internal/cluster"
	"dsm-storage-node/internal/config"
	"dsm-storage-node/internal/cryptoprim"
	"dsm-storage-node/internal/node"
)

func main() {
	root := &cobra.Command{Use: "storage-node"}
	root.AddCommand(serveCmd())
	root.AddCommand(selftestCmd())
	root.AddCommand(keygenCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var env string
	var nodeID string
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the storage node's HTTP surface and background engines",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()

			cfg, err := config.Load(env)
			if err != nil {
				log.WithError(err).Warn("storage-node: no config file found, using defaults")
				cfg = config.Default()
			}
			if nodeID != "" {
				cfg.Node.ID = nodeID
			}
			if cfg.Node.ID == "" {
				cfg.Node.ID = "node-local"
			}
			if listenAddr != "" {
				cfg.HTTP.ListenAddr = listenAddr
			}
			if cfg.HTTP.ListenAddr == "" {
				cfg.HTTP.ListenAddr = ":8080"
			}

			peer := cluster.NewHTTPPeer(0)
			n := node.New(cfg, log, peer)
			if err := n.Start(); err != nil {
				return err
			}
			defer n.Stop()

			srv := api.NewServer(n)
			log.WithFields(logrus.Fields{"node_id": n.ID, "addr": cfg.HTTP.ListenAddr}).Info("storage-node: serving")
			return srv.ListenAndServe(cfg.HTTP.ListenAddr)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "configuration environment overlay (e.g. production)")
	cmd.Flags().StringVar(&nodeID, "node-id", "", "override the configured node id")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override the configured HTTP listen address")
	return cmd
}

func selftestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "run the crypto subsystem self-test once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			hc := cryptoprim.NewHealthChecker(0)
			if err := hc.SelfTest(); err != nil {
				return err
			}
			fmt.Println("selftest: ok")
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a fresh KEM keypair and print it as hex",
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, sk, err := cryptoprim.Keygen()
			if err != nil {
				return err
			}
			defer sk.Zero()
			fmt.Printf("public_key: %s\n", hex.EncodeToString(pk))
			fmt.Printf("secret_key: %s\n", hex.EncodeToString(sk.Bytes()))
			return nil
		},
	}
}
