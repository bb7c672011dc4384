package provision

import (
	"io"
)

// Create provisions host <host> of network <net> inside the network namespace
// of <pid> and prints its public key. Anything created before a failure is
// removed again.
func (p *Provisioner) Create(args []string) error {
	if err := checkArgCount(args, 4, SynopsisCreate); err != nil {
		return err
	}
	t, err := parseTarget(args[0], args[1], args[2], SynopsisCreate)
	if err != nil {
		return err
	}
	port, err := parsePort(args[3], SynopsisCreate)
	if err != nil {
		return err
	}

	dev := t.endpoint.DeviceName(p.prefix)
	address := t.endpoint.Address().String()
	network := t.endpoint.Network().String()

	keys := &keyPair{}
	defer keys.Close()

	steps := p.keySteps(keys)
	steps = append(steps,
		p.createDeviceStep(dev),
		&step{
			description: "moving device into namespace",
			run:         func() error { return p.run(p.ip("link", "set", dev, "netns", t.pid)) },
		},
		p.enterStep(t.pid),
		&step{
			description: "setting IP address",
			run:         func() error { return p.run(p.ip("addr", "add", address, "dev", dev)) },
		},
		p.setKeyStep(dev, port, keys),
		p.upStep(dev),
		&step{
			description: "adding route",
			run:         func() error { return p.run(p.ip("route", "add", network, "dev", dev)) },
		},
	)
	if err := p.newPlan(steps).run(); err != nil {
		return err
	}

	p.logger.Info("created endpoint", "device", dev, "pid", t.pid, "address", address, "port", port)
	return p.printKey(keys)
}

// Connect points the endpoint inside the namespace of <pid> at its peer.
func (p *Provisioner) Connect(args []string) error {
	if err := checkArgCount(args, 5, SynopsisConnect); err != nil {
		return err
	}
	t, err := parseTarget(args[0], args[1], args[2], SynopsisConnect)
	if err != nil {
		return err
	}
	endpoint, err := parseEndpoint(args[3], SynopsisConnect)
	if err != nil {
		return err
	}
	key, err := parseKey(args[4], SynopsisConnect)
	if err != nil {
		return err
	}

	dev := t.endpoint.DeviceName(p.prefix)
	network := t.endpoint.Network().String()

	err = p.newPlan([]*step{
		p.enterStep(t.pid),
		p.addPeerStep(dev, key, network, endpoint),
	}).run()
	if err != nil {
		return err
	}

	p.logger.Info("connected endpoint", "device", dev, "pid", t.pid, "peer", endpoint)
	return nil
}

// Destroy deletes the endpoint. If the namespace cannot be entered the delete
// is still attempted where the process is.
func (p *Provisioner) Destroy(args []string) error {
	if err := checkArgCount(args, 3, SynopsisDestroy); err != nil {
		return err
	}
	t, err := parseTarget(args[0], args[1], args[2], SynopsisDestroy)
	if err != nil {
		return err
	}

	dev := t.endpoint.DeviceName(p.prefix)

	enter := p.enterStep(t.pid)
	enter.ignoreErr = true
	err = p.newPlan([]*step{
		enter,
		{
			description: "deleting device",
			run:         func() error { return p.run(p.ip("link", "delete", dev)) },
		},
	}).run()
	if err != nil {
		return err
	}

	p.logger.Info("destroyed endpoint", "device", dev, "pid", t.pid)
	return nil
}

func (p *Provisioner) enterStep(pid string) *step {
	return &step{
		description: "entering namespace",
		run:         func() error { return p.switcher.Enter(pid) },
	}
}

// printKey writes the public key and a newline, straight from the locked
// buffer.
func (p *Provisioner) printKey(keys *keyPair) error {
	if _, err := p.stdout.Write(keyBytes(keys.public)); err != nil {
		return err
	}
	_, err := io.WriteString(p.stdout, "\n")
	return err
}
