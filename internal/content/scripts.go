package content

// Browser scripts are single expressions so every driver can evaluate them as-is.
const (
	// stripArchiveScript removes the archive's injected banner and its
	// stylesheets. Missing elements are ignored.
	stripArchiveScript = `(() => {
	let removed = 0;
	const banner = document.querySelector("#wm-ipp-base");
	if (banner && banner.parentNode) {
		banner.parentNode.removeChild(banner);
		removed++;
	}
	for (const name of ["banner-styles.css", "iconochive.css"]) {
		document.querySelectorAll('link[href*="' + name + '"]').forEach((el) => {
			if (el.parentNode) {
				el.parentNode.removeChild(el);
				removed++;
			}
		});
	}
	return removed;
})()`

	// stylesheetsScript inventories document.styleSheets. Reading cssRules
	// throws for cross-origin sheets; those report found=false.
	stylesheetsScript = `(() => Array.from(document.styleSheets).map((sheet) => {
	const href = sheet.href === null ? "inline" : sheet.href;
	try {
		return { href: href, found: true, rules: sheet.cssRules.length };
	} catch (e) {
		return { href: href, found: false, rules: 0 };
	}
}))()`

	anchorsScript = `document.querySelectorAll("a").length`
)
