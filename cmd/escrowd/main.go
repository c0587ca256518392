package main

import (
	_ "net/http/pprof"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/cli"
	"github.com/textileio/escrow-core/cmd/escrowd/service"
	"github.com/textileio/escrow-core/common"
	"github.com/textileio/escrow-core/msgbroker/gpubsub"
	logging "github.com/textileio/go-log/v2"
)

var (
	daemonName = "escrowd"
	log        = logging.Logger(daemonName)
	v          = viper.New()
)

func init() {
	home, err := os.UserHomeDir()
	cli.CheckErrf("getting home dir: %v", err)

	flags := []cli.Flag{
		{Name: "repo-path", DefValue: filepath.Join(home, ".escrowd"), Description: "Ledger datastore path"},
		{Name: "rpc-addr", DefValue: ":8888", Description: "JSON-RPC API listen address"},
		{Name: "auth-secret", DefValue: "", Description: "HMAC secret of caller tokens; empty trusts the caller field"},
		{Name: "publish-queue-size", DefValue: 1024, Description: "Max number of events waiting to be published"},
		{Name: "gpubsub-project-id", DefValue: "", Description: "Google PubSub project id"},
		{Name: "gpubsub-api-key", DefValue: "", Description: "Google PubSub API key"},
		{Name: "msgbroker-topic-prefix", DefValue: "", Description: "Topic prefix to use for msg broker topics"},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	cli.ConfigureCLI(v, "ESCROW", flags, rootCmd.Flags())
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "escrowd holds auction collateral and bids in escrow and queues refunds for bidders",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		cli.ExpandEnvVars(v, v.AllSettings())
		err := cli.ConfigureLogging(v, []string{
			daemonName,
			service.LogName,
			"escrow/ledger",
			"escrow/rpcapi",
			"gpubsub",
		})
		cli.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		settings, err := cli.MarshalConfig(v, !v.GetBool("log-json"), "gpubsub-api-key", "auth-secret")
		cli.CheckErr(err)
		log.Infof("loaded config: %s", string(settings))

		if err := common.SetupInstrumentation(v.GetString("metrics-addr")); err != nil {
			log.Fatalf("booting instrumentation: %s", err)
		}

		projectID := v.GetString("gpubsub-project-id")
		apiKey := v.GetString("gpubsub-api-key")
		topicPrefix := v.GetString("msgbroker-topic-prefix")
		mb, err := gpubsub.New(projectID, apiKey, topicPrefix, daemonName)
		cli.CheckErr(err)

		if v.GetString("auth-secret") == "" {
			log.Warn("auth-secret is empty, callers are not authenticated")
		}
		serv, err := service.New(mb, service.Config{
			RepoPath:         v.GetString("repo-path"),
			RPCAddr:          v.GetString("rpc-addr"),
			AuthSecret:       v.GetString("auth-secret"),
			PublishQueueSize: v.GetInt("publish-queue-size"),
		})
		cli.CheckErr(err)

		cli.HandleInterrupt(func() {
			if err := serv.Close(); err != nil {
				log.Errorf("closing service: %s", err)
			}
			if err := mb.Close(); err != nil {
				log.Errorf("closing message broker: %s", err)
			}
		})
	},
}

func main() {
	cli.CheckErr(rootCmd.Execute())
}
