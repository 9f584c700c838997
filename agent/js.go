package agent

// The two evaluators below run inside the page. They are treated as opaque
// scripts with a documented input/output shape; the Go side never inspects
// the DOM itself.

// enumerateScript collects the page's interactive elements. Input is an
// options object {filterRoles, maxElements, includeBounds}; output is an
// array of plain records, one per visible interactive element.
const enumerateScript = `(opts) => {
	const union = [
		'a[href]', 'button', 'input', 'select', 'textarea', 'summary',
		'[role=button]', '[role=link]', '[role=checkbox]', '[role=radio]',
		'[role=combobox]', '[role=listbox]', '[role=menuitem]', '[role=option]',
		'[role=switch]', '[role=tab]', '[role=textbox]', '[role=searchbox]',
		'[role=slider]', '[role=spinbutton]',
		'[contenteditable]', '[contenteditable=true]', '[onclick]',
	].join(',');
	const implicitRole = (el) => {
		const tag = el.tagName.toLowerCase();
		if (tag === 'a' && el.hasAttribute('href')) return 'link';
		if (tag === 'button' || tag === 'summary') return 'button';
		if (tag === 'select') return el.multiple ? 'listbox' : 'combobox';
		if (tag === 'textarea') return 'textbox';
		if (tag === 'input') {
			const t = (el.type || 'text').toLowerCase();
			if (t === 'checkbox') return 'checkbox';
			if (t === 'radio') return 'radio';
			if (t === 'range') return 'slider';
			if (t === 'number') return 'spinbutton';
			if (t === 'search') return 'searchbox';
			if (t === 'button' || t === 'submit' || t === 'reset' || t === 'image') return 'button';
			return 'textbox';
		}
		if (el.isContentEditable) return 'textbox';
		return tag;
	};
	const visible = (el) => {
		const st = getComputedStyle(el);
		if (st.display === 'none' || st.visibility === 'hidden') return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const accessibleName = (el) => {
		const aria = el.getAttribute('aria-label');
		if (aria) return aria.trim();
		if (el.labels && el.labels.length > 0) return el.labels[0].textContent.trim();
		const txt = (el.innerText || el.value || el.getAttribute('placeholder') || '').trim();
		return txt.replace(/\s+/g, ' ').slice(0, 80);
	};
	const cssPath = (el) => {
		const parts = [];
		let cur = el;
		while (cur && cur.nodeType === 1 && cur.tagName.toLowerCase() !== 'body') {
			if (cur.id) {
				parts.unshift('#' + cur.id);
				break;
			}
			const tag = cur.tagName.toLowerCase();
			let k = 1, sib = cur;
			while ((sib = sib.previousElementSibling)) {
				if (sib.tagName === cur.tagName) k++;
			}
			parts.unshift(tag + ':nth-of-type(' + k + ')');
			cur = cur.parentElement;
		}
		return parts.join(' > ');
	};
	const candidates = [];
	for (const el of document.querySelectorAll(union)) {
		if (!visible(el)) continue;
		const role = el.getAttribute('role') || implicitRole(el);
		if (opts.filterRoles && opts.filterRoles.length > 0 && !opts.filterRoles.includes(role)) continue;
		let sibIdx = 0, sib = el;
		while ((sib = sib.previousElementSibling)) sibIdx++;
		const parent = el.parentElement;
		const rec = {
			role: role,
			name: accessibleName(el),
			value: ('value' in el && typeof el.value === 'string') ? el.value : '',
			tagName: el.tagName.toLowerCase(),
			testId: el.getAttribute('data-testid') || el.getAttribute('data-test-id') || '',
			id: el.id || '',
			ariaLabel: el.getAttribute('aria-label') || '',
			nameAttr: el.getAttribute('name') || '',
			text: (el.innerText || '').trim().replace(/\s+/g, ' '),
			inputType: (el.tagName.toLowerCase() === 'input') ? (el.type || 'text').toLowerCase() : '',
			parentRole: parent ? (parent.getAttribute('role') || '') : '',
			siblingIndex: sibIdx,
			focused: document.activeElement === el,
			disabled: !!el.disabled || el.getAttribute('aria-disabled') === 'true',
			clickable: true,
			editable: role === 'textbox' || role === 'searchbox' || role === 'spinbutton' || el.isContentEditable,
			selectable: role === 'combobox' || role === 'listbox',
			checkable: role === 'checkbox' || role === 'radio' || role === 'switch',
			cssPath: cssPath(el),
		};
		if (opts.includeBounds) {
			const r = el.getBoundingClientRect();
			rec.bounds = {x: r.x, y: r.y, width: r.width, height: r.height};
		}
		candidates.push(rec);
		if (candidates.length >= opts.maxElements) break;
	}
	return candidates;
}`

// annotateScript renders a Set-of-Marks overlay. Input is {image (base64
// PNG), marks: [{label, bounds}], style}; it draws the screenshot into a
// canvas, paints a bounding box and a badge per mark, and resolves with the
// annotated PNG as base64.
const annotateScript = `(input) => new Promise((resolve, reject) => {
	const img = new Image();
	img.onload = () => {
		const canvas = document.createElement('canvas');
		canvas.width = img.naturalWidth;
		canvas.height = img.naturalHeight;
		const ctx = canvas.getContext('2d');
		ctx.drawImage(img, 0, 0);
		const st = input.style;
		ctx.globalAlpha = st.opacity;
		ctx.font = 'bold ' + st.fontSize + 'px ' + st.font;
		for (const m of input.marks) {
			const b = m.bounds;
			ctx.strokeStyle = st.boxColor;
			ctx.lineWidth = st.boxWidth;
			ctx.setLineDash(st.dashed ? [6, 3] : []);
			ctx.strokeRect(b.x, b.y, b.width, b.height);
			const tw = ctx.measureText(m.label).width;
			const pad = 4;
			const bw = tw + pad * 2;
			const bh = st.fontSize + pad * 2;
			const bx = Math.max(0, b.x - 2);
			const by = Math.max(0, b.y - bh);
			ctx.setLineDash([]);
			ctx.fillStyle = st.badgeColor;
			ctx.fillRect(bx, by, bw, bh);
			ctx.fillStyle = st.textColor;
			ctx.fillText(m.label, bx + pad, by + bh - pad - 1);
		}
		ctx.globalAlpha = 1;
		resolve(canvas.toDataURL('image/png').split(',')[1]);
	};
	img.onerror = () => reject(new Error('screenshot decode failed'));
	img.src = 'data:image/png;base64,' + input.image;
})`
