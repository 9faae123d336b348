package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ankittk/researcher/internal/config"
	"github.com/ankittk/researcher/internal/daemon"
	"github.com/ankittk/researcher/pkg/client"
)

// remoteFlags are shared by the commands that talk to a running server.
type remoteFlags struct {
	server string
	apiKey string
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "Server URL (default: RESEARCHER_URL, the running server for this home, or http://"+daemon.DefaultAddr+")")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key (default: RESEARCHER_API_KEY)")
}

func (f *remoteFlags) client(cmd *cobra.Command) *client.Client {
	key := f.apiKey
	if key == "" {
		key = os.Getenv("RESEARCHER_API_KEY")
	}
	return client.New(f.baseURL(cmd), key)
}

func (f *remoteFlags) baseURL(cmd *cobra.Command) string {
	if f.server != "" {
		return strings.TrimSuffix(f.server, "/")
	}
	if u := os.Getenv("RESEARCHER_URL"); u != "" {
		return strings.TrimSuffix(u, "/")
	}
	addr := daemon.DefaultAddr
	if home, ok := config.HomeFrom(cmd.Context()); ok {
		if st, _ := daemon.Status(cmd.Context(), home); st.Running && st.Addr != "unknown" {
			addr = st.Addr
		}
	}
	if strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "127.0.0.1:" + strings.TrimPrefix(addr, "0.0.0.0:")
	}
	return "http://" + addr
}
