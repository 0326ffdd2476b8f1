package session

// registerHandlers installs the notification handlers on the client. The
// redraw handler has its own signature because the transport decodes each
// batch as a separate variadic argument.
func (s *Session) registerHandlers() error {
	if err := s.client.RegisterHandler(MethodRedraw, func(updates ...[]any) {
		args := make([]any, len(updates))
		for i, u := range updates {
			args[i] = u
		}
		s.handle(MethodRedraw, args)
	}); err != nil {
		return err
	}

	for _, method := range []string{MethodBufLines, MethodBufDetach, MethodBufChangedTick} {
		if err := s.client.RegisterHandler(method, func(args ...any) {
			s.handle(method, args)
		}); err != nil {
			return err
		}
	}
	return nil
}

// handle decodes and dispatches one raw notification. Malformed payloads
// are dropped whole.
func (s *Session) handle(method string, args []any) {
	if s.stopped.Load() {
		return
	}
	n, err := Decode(method, args)
	if err != nil {
		s.logger.Warn("dropping notification: %v", err)
		return
	}
	s.dispatch(n)
}

func (s *Session) dispatch(n Notification) {
	switch n := n.(type) {
	case Redraw:
		s.dispatchRedraw(n)

	case BufLines:
		s.listener.OnLines(n.Event)

	case BufDetach:
		s.attachMu.Lock()
		if s.hasAttached && s.attached == n.Buffer {
			s.hasAttached = false
			s.attached = 0
		}
		s.attachMu.Unlock()
		s.logger.Debug("engine detached buffer %d", n.Buffer)

	case BufChangedTick:
		s.logger.Debug("buffer %d changedtick %d", n.Buffer, n.Tick)

	case Unknown:
		s.logger.Debug("ignoring notification %s", n.Method)
	}
}

func (s *Session) dispatchRedraw(r Redraw) {
	cursorMoved := false
	for _, op := range r.Ops {
		switch op := op.(type) {
		case ModeChange:
			s.setMode(op.Mode)
			s.listener.OnModeChange(op.Mode)
		case CursorGoto:
			cursorMoved = true
		case CmdlineShow:
			s.listener.OnCmdline(CmdlineEvent{
				Kind:      CmdlineShown,
				Content:   op.Content,
				Pos:       op.Pos,
				FirstChar: op.FirstChar,
				Prompt:    op.Prompt,
				Level:     op.Level,
			})
		case CmdlinePos:
			s.listener.OnCmdline(CmdlineEvent{Kind: CmdlineMoved, Pos: op.Pos, Level: op.Level})
		case CmdlineHide:
			s.listener.OnCmdline(CmdlineEvent{Kind: CmdlineHidden, Level: op.Level})
		case PopupmenuShow:
			s.listener.OnCmdline(CmdlineEvent{Kind: MenuShown, Items: op.Items, Selected: op.Selected})
		case PopupmenuSelect:
			s.listener.OnCmdline(CmdlineEvent{Kind: MenuSelected, Selected: op.Selected})
		case PopupmenuHide:
			s.listener.OnCmdline(CmdlineEvent{Kind: MenuHidden})
		case Flush:
		case IgnoredOp:
			s.logger.Debug("redraw op %s ignored", op.Name)
		}
	}

	// grid_cursor_goto only says that the cursor moved, in screen cells.
	// One buffer-coordinate query per batch is enough.
	if cursorMoved {
		s.followCursor()
	}
	s.listener.OnRedraw()
}

func (s *Session) followCursor() {
	s.followMu.Lock()
	if s.stopped.Load() {
		s.followMu.Unlock()
		return
	}
	s.followUps.Add(1)
	s.followMu.Unlock()

	go func() {
		defer s.followUps.Done()
		pos, err := s.Cursor(s.ctx)
		if err != nil {
			s.logger.Debug("cursor follow-up: %v", err)
			return
		}
		if s.stopped.Load() {
			return
		}
		s.listener.OnCursor(pos)
	}()
}
