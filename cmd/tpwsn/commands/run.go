package commands

import (
	"bufio"
	"os"
	"os/signal"
	"syscall"

	"github.com/davidjrichardson/erts-2020/src/multihop"
	"github.com/davidjrichardson/erts-2020/src/net"
	"github.com/davidjrichardson/erts-2020/src/node"
	"github.com/davidjrichardson/erts-2020/src/restart"
	"github.com/davidjrichardson/erts-2020/src/service"
	"github.com/davidjrichardson/erts-2020/src/telemetry"
	"github.com/davidjrichardson/erts-2020/src/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewTrickleCmd returns the command that starts a trickle token node
func NewTrickleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "trickle",
		Short:   "Run a trickle token consistency node",
		PreRunE: loadConfig,
		RunE:    runTrickle,
	}
	AddRunFlags(cmd)
	return cmd
}

//NewRMHCmd returns the command that starts a random forwarding node
func NewRMHCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rmh",
		Short:   "Run a random multihop forwarding node",
		PreRunE: loadConfig,
		RunE:    runRMH,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

// protocolNode is the part of either node the command loop drives.
type protocolNode interface {
	service.StatsProvider
	RunAsync()
	SubmitLine(line string)
	Shutdown()
}

func runTrickle(cmd *cobra.Command, args []string) error {
	trans, err := newTransport()
	if err != nil {
		return err
	}

	return serve(node.NewNode(_config, trans, restart.NoopLight()))
}

func runRMH(cmd *cobra.Command, args []string) error {
	trans, err := newTransport()
	if err != nil {
		return err
	}

	return serve(multihop.NewNode(_config, trans, restart.NoopLight()))
}

func newTransport() (*net.UDPTransport, error) {
	logger := _config.Logger().WithField("component", "transport")
	return net.NewUDPTransport(_config.BindAddr, _config.GroupAddr, _config.Interface, logger)
}

// serve runs n until an interrupt, feeding it serial lines from stdin.
func serve(n protocolNode) error {
	telemetry.SetBuildInfo(version.Version)

	if !_config.NoService {
		svc := service.NewService(_config.ServiceAddr, n, _config.Logger())
		go svc.Serve()
	}

	n.RunAsync()
	defer n.Shutdown()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lineCh := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lineCh <- scanner.Text()
		}
		close(lineCh)
	}()

	for {
		select {
		case <-sigCh:
			return nil
		case line, ok := <-lineCh:
			if !ok {
				// stdin closed; keep running on network traffic alone
				lineCh = nil
				continue
			}
			n.SubmitLine(line)
		}
	}
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the trickle and rmh commands
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Also write logs to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Advertise IP:Port for this node")
	cmd.Flags().StringP("group", "g", _config.GroupAddr, "Multicast group IP:Port standing in for the radio")
	cmd.Flags().String("iface", _config.Interface, "Interface to join the multicast group on")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Do not run the HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Trickle
	cmd.Flags().Duration("imin", _config.IMin, "Minimum trickle interval")
	cmd.Flags().Uint("imax", _config.IMaxDoublings, "Number of interval doublings")
	cmd.Flags().Uint("k", _config.K, "Redundancy constant")
	cmd.Flags().Uint8("limit", _config.MsgLimit, "Source token ceiling")
	cmd.Flags().Duration("token-interval", _config.NewTokenInterval, "Source generation tick")
	cmd.Flags().Int("token-prob", _config.NewTokenProb, "One-in-N generation probability per tick")

	// Membership and forwarding
	cmd.Flags().Int("max-neighbours", _config.MaxNeighbours, "Neighbour pool capacity")
	cmd.Flags().Duration("neighbour-timeout", _config.NeighbourTimeout, "Entry lifetime without a refresh")
	cmd.Flags().Duration("announcement-interval", _config.AnnouncementInterval, "Time between presence beacons")
	cmd.Flags().String("data-dest", _config.DataDest, "Fixed destination for originated data")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	_config.Logger().WithFields(logrus.Fields{
		"DataDir":              _config.DataDir,
		"BindAddr":             _config.BindAddr,
		"GroupAddr":            _config.GroupAddr,
		"Interface":            _config.Interface,
		"ServiceAddr":          _config.ServiceAddr,
		"LogLevel":             _config.LogLevel,
		"Moniker":              _config.Moniker,
		"IMin":                 _config.IMin,
		"IMaxDoublings":        _config.IMaxDoublings,
		"K":                    _config.K,
		"MsgLimit":             _config.MsgLimit,
		"NewTokenInterval":     _config.NewTokenInterval,
		"NewTokenProb":         _config.NewTokenProb,
		"MaxNeighbours":        _config.MaxNeighbours,
		"NeighbourTimeout":     _config.NeighbourTimeout,
		"AnnouncementInterval": _config.AnnouncementInterval,
		"DataDest":             _config.DataDest,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/tpwsn.toml (.json, .yaml also work)
	viper.SetConfigName("tpwsn")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
