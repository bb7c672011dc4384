package provision

// CreateDevice sets up a WireGuard device in the current network namespace
// with an operator chosen address and prints its public key.
func (p *Provisioner) CreateDevice(args []string) error {
	if err := checkArgCount(args, 3, SynopsisDeviceCreate); err != nil {
		return err
	}
	dev, err := parseDevice(args[0], SynopsisDeviceCreate)
	if err != nil {
		return err
	}
	network, err := parseNetwork(args[1], SynopsisDeviceCreate)
	if err != nil {
		return err
	}
	port, err := parsePort(args[2], SynopsisDeviceCreate)
	if err != nil {
		return err
	}

	keys := &keyPair{}
	defer keys.Close()

	steps := p.keySteps(keys)
	steps = append(steps,
		p.createDeviceStep(dev),
		&step{
			description: "setting IP address",
			run:         func() error { return p.run(p.ip("addr", "add", network, "dev", dev)) },
		},
		p.setKeyStep(dev, port, keys),
		p.upStep(dev),
	)
	if err := p.newPlan(steps).run(); err != nil {
		return err
	}

	p.logger.Info("created device", "device", dev, "address", network, "port", port)
	return p.printKey(keys)
}

// AddPeer adds a peer to a device in the current network namespace.
func (p *Provisioner) AddPeer(args []string) error {
	if err := checkArgCount(args, 4, SynopsisAddPeer); err != nil {
		return err
	}
	dev, err := parseDevice(args[0], SynopsisAddPeer)
	if err != nil {
		return err
	}
	endpoint, err := parseEndpoint(args[1], SynopsisAddPeer)
	if err != nil {
		return err
	}
	network, err := parseNetwork(args[2], SynopsisAddPeer)
	if err != nil {
		return err
	}
	key, err := parseKey(args[3], SynopsisAddPeer)
	if err != nil {
		return err
	}

	if err := p.newPlan([]*step{p.addPeerStep(dev, key, network, endpoint)}).run(); err != nil {
		return err
	}
	p.logger.Info("added peer", "device", dev, "peer", endpoint)
	return nil
}

// createDeviceStep owes a delete once the link exists. A failed add leaves
// nothing to remove.
func (p *Provisioner) createDeviceStep(dev string) *step {
	return &step{
		description: "creating device",
		run:         func() error { return p.run(p.ip("link", "add", dev, "type", "wireguard")) },
		undo:        func() error { return p.run(p.ip("link", "delete", dev)) },
	}
}

func (p *Provisioner) setKeyStep(dev, port string, keys *keyPair) *step {
	return &step{
		description: "setting port and key",
		run: func() error {
			return p.run(p.wgWithKey(keyBytes(keys.private),
				"set", dev, "listen-port", port, "private-key", "/dev/stdin"))
		},
	}
}

func (p *Provisioner) upStep(dev string) *step {
	return &step{
		description: "bringing up interface",
		run:         func() error { return p.run(p.ip("link", "set", dev, "up")) },
	}
}

func (p *Provisioner) addPeerStep(dev, key, allowedIPs, endpoint string) *step {
	return &step{
		description: "adding peer",
		run: func() error {
			return p.run(p.wg("set", dev, "peer", key, "allowed-ips", allowedIPs, "endpoint", endpoint))
		},
	}
}
