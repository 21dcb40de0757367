package isa

// MoveEmitter emits a single register-to-register move of the given
// RegisterType.
type MoveEmitter interface {
	EmitMove(tp RegisterType, from, to Register) error
}

// SwapEmitter emits an in-place exchange of two registers of the given
// RegisterType (e.g. XCHG on amd64 for integer registers); float register
// files typically have no such instruction, in which case RegisterCopyResolver
// breaks the cycle via a scratch register instead of calling SwapEmitter.
type SwapEmitter interface {
	EmitSwap(tp RegisterType, a, b Register) error
}

// move is one edge of the permutation: value currently in From must end up
// in To.
type move struct {
	From, To Register
	Type     RegisterType
}

// RegisterCopyResolver solves the general "permute N register-to-register
// moves" problem that arises when re-sorting arguments from one calling
// convention to another (spec §4.10: Wasm ABI → host ABI for imported
// calls). It builds a dependency graph of source→target moves; a linear
// topological emit produces straight moves, and cycles are broken with
// either an exchange primitive (integer registers) or a move through a
// scratch register (float registers, which typically lack a hardware swap).
type RegisterCopyResolver struct {
	moves []move
}

// Add records that the value currently in from must end up in to. The
// caller is responsible for not registering two moves with the same To.
func (r *RegisterCopyResolver) Add(tp RegisterType, from, to Register) {
	if from == to {
		return
	}
	r.moves = append(r.moves, move{From: from, To: to, Type: tp})
}

// Resolve emits the recorded moves, using mover for straight moves and
// swapper/scratch for cycles. scratch supplies a free register of the
// given type to break a float cycle through, and must not itself be the
// source or destination of any recorded move.
func (r *RegisterCopyResolver) Resolve(mover MoveEmitter, swapper SwapEmitter, scratch func(RegisterType) (Register, error)) error {
	// index "to" -> move, and count how many moves read from each register.
	byTo := make(map[Register]move, len(r.moves))
	readCount := make(map[Register]int, len(r.moves))
	for _, m := range r.moves {
		byTo[m.To] = m
		readCount[m.From]++
	}

	pending := make(map[Register]bool, len(r.moves))
	for _, m := range r.moves {
		pending[m.To] = true
	}

	emit := func(m move) error {
		if err := mover.EmitMove(m.Type, m.From, m.To); err != nil {
			return err
		}
		readCount[m.From]--
		delete(pending, m.To)
		return nil
	}

	// Topological pass: repeatedly emit any move whose target is not read
	// by any other still-pending move (i.e. safe to overwrite).
	progress := true
	for progress && len(pending) > 0 {
		progress = false
		for to := range pending {
			m := byTo[to]
			if readCount[m.To] == 0 {
				if err := emit(m); err != nil {
					return err
				}
				progress = true
			}
		}
	}

	// Whatever remains forms one or more cycles. Break each by swapping (or,
	// for float registers, routing through scratch) one edge, which turns
	// the cycle into a chain the topological pass above can then drain.
	for len(pending) > 0 {
		var start Register
		for to := range pending {
			start = to
			break
		}
		cycle := []move{byTo[start]}
		cur := byTo[start].From
		for cur != start {
			m := byTo[cur]
			cycle = append(cycle, m)
			cur = m.From
		}

		tp := cycle[0].Type
		if tp == GeneralPurpose && swapper != nil {
			// Exchange the first two registers in the cycle, which
			// reduces the remaining work to a chain: after swapping
			// cycle[0].From and cycle[0].To, cycle[0] is satisfied.
			if err := swapper.EmitSwap(tp, cycle[0].From, cycle[0].To); err != nil {
				return err
			}
			delete(pending, cycle[0].To)
			readCount[cycle[0].From]--
			// Reroute the move that used to read from cycle[0].To: it now
			// finds its value at cycle[0].From instead.
			for _, m := range cycle[1:] {
				if m.From == cycle[0].To {
					readCount[m.From]--
					if cycle[0].From == m.To {
						delete(pending, m.To) // the swap already put this value in place
						continue
					}
					byTo[m.To] = move{From: cycle[0].From, To: m.To, Type: m.Type}
					readCount[cycle[0].From]++
				}
			}
		} else {
			s, err := scratch(tp)
			if err != nil {
				return err
			}
			if err := mover.EmitMove(tp, cycle[0].To, s); err != nil {
				return err
			}
			// cycle[0].To's original value is now safe in scratch; its
			// readers take it from there, which frees cycle[0].To for cycle[0].
			for _, m := range cycle[1:] {
				if m.From == cycle[0].To {
					readCount[m.From]--
					byTo[m.To] = move{From: s, To: m.To, Type: m.Type}
				}
			}
		}

		// Drain whatever the break just unblocked.
		progress = true
		for progress && len(pending) > 0 {
			progress = false
			for to := range pending {
				m := byTo[to]
				if readCount[m.To] == 0 {
					if err := emit(m); err != nil {
						return err
					}
					progress = true
				}
			}
		}
	}
	return nil
}
