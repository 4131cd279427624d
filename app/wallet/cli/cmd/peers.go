package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"
)

var nodeURL string

// peersCmd represents the peers command
var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List the peers known to a node",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := http.Get(fmt.Sprintf("%s/v1/node/peers", nodeURL))
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()

		var peers []struct {
			Host string
		}
		if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
			log.Fatal(err)
		}

		for _, peer := range peers {
			fmt.Println(peer.Host)
		}
	},
}

func init() {
	rootCmd.AddCommand(peersCmd)
	peersCmd.Flags().StringVarP(&nodeURL, "url", "u", "http://localhost:9080", "Url of the node's private API.")
}
